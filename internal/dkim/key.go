package dkim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/foxzi/clicktrail/internal/config"
)

// KeyBits is the RSA modulus size of generated keys.
const KeyBits = 2048

// maxTXTString is the longest character-string a TXT record can hold.
const maxTXTString = 255

var (
	ErrNoKeyFile = errors.New("mail.dkim.key_file is not set")
	ErrNotRSA    = errors.New("key is not RSA")
)

// Key is the signing identity of the sending domain as described by the
// mail.dkim config section.
type Key struct {
	private  *rsa.PrivateKey
	Domain   string
	Selector string
}

// Record is the TXT record that publishes a key.
type Record struct {
	Name  string
	Value string
}

// Generate creates a key for cfg and writes it to cfg.KeyFile as PKCS#1 PEM.
// An existing key file is never overwritten.
func Generate(cfg config.DKIMConfig) (*Key, error) {
	if cfg.KeyFile == "" {
		return nil, ErrNoKeyFile
	}
	k, err := generate(cfg.Domain, cfg.Selector)
	if err != nil {
		return nil, err
	}
	if err := k.save(cfg.KeyFile); err != nil {
		return nil, err
	}
	return k, nil
}

func generate(domain, selector string) (*Key, error) {
	private, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &Key{private: private, Domain: domain, Selector: selector}, nil
}

func (k *Key) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer file.Close()

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k.private)}
	if err := pem.Encode(file, block); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// Load reads the key named by cfg.KeyFile. PKCS#1 and PKCS#8 PEM are accepted.
func Load(cfg config.DKIMConfig) (*Key, error) {
	if cfg.KeyFile == "" {
		return nil, ErrNoKeyFile
	}
	data, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block", cfg.KeyFile)
	}

	var private *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		private, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if private, ok = parsed.(*rsa.PrivateKey); !ok {
				err = ErrNotRSA
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.KeyFile, err)
	}

	return &Key{private: private, Domain: cfg.Domain, Selector: cfg.Selector}, nil
}

// Bits returns the modulus size.
func (k *Key) Bits() int {
	return k.private.N.BitLen()
}

// Signer returns a message signer for this key.
func (k *Key) Signer() *Signer {
	return NewSigner(k.private, k.Domain, k.Selector)
}

// Record returns the TXT record receivers look up to verify signatures.
func (k *Key) Record() Record {
	der, err := x509.MarshalPKIXPublicKey(&k.private.PublicKey)
	if err != nil {
		return Record{}
	}
	return Record{
		Name:  fmt.Sprintf("%s._domainkey.%s", k.Selector, k.Domain),
		Value: "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der),
	}
}

// Chunks splits the value into TXT character-strings.
func (r Record) Chunks() []string {
	var chunks []string
	for v := r.Value; v != ""; {
		n := min(len(v), maxTXTString)
		chunks = append(chunks, v[:n])
		v = v[n:]
	}
	return chunks
}

// ZoneLine renders the record for a BIND-style zone file.
func (r Record) ZoneLine() string {
	quoted := make([]string, 0, 2)
	for _, c := range r.Chunks() {
		quoted = append(quoted, `"`+c+`"`)
	}
	return fmt.Sprintf("%s. IN TXT ( %s )", r.Name, strings.Join(quoted, " "))
}
