package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/clicktrail/internal/auth"
	"github.com/foxzi/clicktrail/internal/compose"
	"github.com/foxzi/clicktrail/internal/db"
	"github.com/foxzi/clicktrail/internal/metrics"
	"github.com/foxzi/clicktrail/internal/models"
	"github.com/foxzi/clicktrail/internal/repository"
	"github.com/foxzi/clicktrail/internal/rewrite"
	"github.com/foxzi/clicktrail/internal/signature"
	"github.com/foxzi/clicktrail/internal/tracking"
	"github.com/foxzi/clicktrail/internal/transport"
)

type captureSender struct {
	sent []*transport.Message
}

func (c *captureSender) Send(ctx context.Context, msg *transport.Message) (string, error) {
	c.sent = append(c.sent, msg)
	return "<test@example.com>", nil
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	sender   *captureSender
	rewriter *rewrite.Rewriter
	metrics  *metrics.Metrics
	conn     *db.DB
	email    *models.Email
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, Options{})
}

func newTestEnvWith(t *testing.T, opts Options) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	conn, err := db.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Migrate())

	signer, err := signature.New("server-test-secret-0123456789abcdef")
	require.NoError(t, err)

	recipients := repository.NewRecipientRepository(conn.DB)
	contacts := repository.NewContactRepository(conn.DB)
	emails := repository.NewEmailRepository(conn.DB)
	events := repository.NewEventRepository(conn.DB)

	campaign := &models.Campaign{OwnerID: "owner-1", Name: "Launch"}
	require.NoError(t, repository.NewCampaignRepository(conn.DB).Create(ctx, campaign))
	audience := &models.Audience{OwnerID: "owner-1", Name: "List"}
	require.NoError(t, repository.NewAudienceRepository(conn.DB).Create(ctx, audience))
	require.NoError(t, contacts.Create(ctx, &models.Contact{AudienceID: audience.ID, Email: "ann@example.com"}))
	email := &models.Email{CampaignID: campaign.ID, AudienceID: audience.ID, Subject: "Hi", ContentText: "Hello"}
	require.NoError(t, emails.Create(ctx, email))

	m := metrics.New()
	rw := rewrite.New(signer, rewrite.Options{
		BaseURL:         "https://track.example.com",
		ClickPath:       "/t/c",
		UnsubscribePath: "/t/u",
	})
	sender := &captureSender{}
	composer := compose.New(emails, contacts, recipients, rw, sender,
		compose.Options{DefaultFrom: "news@example.com"}, m, logger)

	hash1, err := bcrypt.GenerateFromPassword([]byte("token-1"), bcrypt.MinCost)
	require.NoError(t, err)
	hash2, err := bcrypt.GenerateFromPassword([]byte("token-2"), bcrypt.MinCost)
	require.NoError(t, err)
	authenticator := auth.New([]auth.Token{
		{OwnerID: "owner-1", Hash: string(hash1)},
		{OwnerID: "owner-2", Hash: string(hash2)},
	}, logger)

	service := tracking.NewService(signer, recipients, contacts, m, logger)

	opts.ClickPath = "/t/c"
	opts.UnsubscribePath = "/t/u"
	srv := New(opts, Deps{
		Tracking:   tracking.NewHandler(service, m, logger),
		Auth:       authenticator,
		Composer:   composer,
		Recipients: recipients,
		Events:     events,
		Metrics:    m,
	}, logger)

	return &testEnv{
		server:   srv,
		handler:  srv.Handler(),
		sender:   sender,
		rewriter: rw,
		metrics:  m,
		conn:     conn,
		email:    email,
	}
}

func (e *testEnv) do(method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSendTestEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/emails/"+e.email.ID+"/send-test", "token-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res compose.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "sent", res.Status)
	assert.Equal(t, "ann@example.com", res.To)
	assert.NotEmpty(t, res.RecipientID)
	assert.Len(t, e.sender.sent, 1)
}

func TestSendTestEndpointErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name       string
		emailID    string
		token      string
		wantStatus int
		wantDetail string
	}{
		{"no token", e.email.ID, "", http.StatusUnauthorized, "API token required"},
		{"bad token", e.email.ID, "nope", http.StatusUnauthorized, "Invalid API token"},
		{"unknown email", "missing", "token-1", http.StatusNotFound, "Email not found."},
		{"foreign owner", e.email.ID, "token-2", http.StatusForbidden, "Permission denied."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodPost, "/api/v1/emails/"+tt.emailID+"/send-test", tt.token)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDetail, body.Detail)
		})
	}
	assert.Empty(t, e.sender.sent)
}

func TestRecipientEventsAfterClick(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/emails/"+e.email.ID+"/send-test", "token-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var res compose.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	click := e.rewriter.ClickURL(res.RecipientID, "https://example.com/landing")
	rec = e.do(http.MethodGet, strings.TrimPrefix(click, "https://track.example.com"), "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/landing", rec.Header().Get("Location"))

	rec = e.do(http.MethodGet, "/api/v1/recipients/"+res.RecipientID+"/events", "token-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body RecipientEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.StatusClicked, body.Recipient.Status)
	require.Len(t, body.Events, 1)
	assert.Equal(t, models.StatusClicked, body.Events[0].Type)
	assert.Equal(t, "https://example.com/landing", body.Events[0].Metadata["url"])
}

func TestClientIPFromProxyHeaders(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantIP     string
	}{
		{"untrusted", false, "192.0.2.1"},
		{"behind proxy", true, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnvWith(t, Options{TrustProxy: tt.trustProxy})

			rec := e.do(http.MethodPost, "/api/v1/emails/"+e.email.ID+"/send-test", "token-1")
			require.Equal(t, http.StatusOK, rec.Code)
			var res compose.Result
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

			click := e.rewriter.ClickURL(res.RecipientID, "https://example.com/landing")
			req := httptest.NewRequest(http.MethodGet, strings.TrimPrefix(click, "https://track.example.com"), nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			rec = httptest.NewRecorder()
			e.handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusFound, rec.Code)

			events, err := repository.NewEventRepository(e.conn.DB).ListByRecipient(context.Background(), res.RecipientID)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantIP, events[0].Metadata["ip"])
		})
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRunCancelledBeforeStart(t *testing.T) {
	addr := freeAddr(t)
	e := newTestEnvWith(t, Options{ListenAddr: addr})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.server.Run(ctx))

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
		t.Fatal("listener is still open after Run returned")
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	addr := freeAddr(t)
	e := newTestEnvWith(t, Options{ListenAddr: addr})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.server.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err := http.Get("http://" + addr + "/health")
	assert.Error(t, err)
}

func TestRecipientEventsNotFound(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/emails/"+e.email.ID+"/send-test", "token-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var res compose.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = e.do(http.MethodGet, "/api/v1/recipients/"+res.RecipientID+"/events", "token-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/api/v1/recipients/missing/events", "token-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecipientEventsEmptyList(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/emails/"+e.email.ID+"/send-test", "token-1")
	var res compose.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = e.do(http.MethodGet, "/api/v1/recipients/"+res.RecipientID+"/events", "token-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestTrackingRoutesMounted(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/t/c", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Missing parameters."}`, rec.Body.String())

	rec = e.do(http.MethodGet, "/t/u?r=x&u=VU5TVUI&s=00", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestsAreCounted(t *testing.T) {
	e := newTestEnv(t)

	e.do(http.MethodGet, "/health", "")

	families, err := e.metrics.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "clicktrail_http_requests_total" {
			found = true
		}
	}
	assert.True(t, found, "http request counter was not exported")
}

func writeTestCertificate(t *testing.T, notAfter time.Time) (certFile, keyFile string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "track.example.com"},
		Issuer:                pkix.Name{CommonName: "track.example.com"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"track.example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0600))
	return certFile, keyFile
}

func TestLoadTLS(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t, time.Now().Add(90*24*time.Hour))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := LoadTLS(certFile, keyFile, logger)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)

	info, err := ReadCertificateInfo(certFile)
	require.NoError(t, err)
	assert.Equal(t, "track.example.com", info.Subject)
	assert.Equal(t, []string{"track.example.com"}, info.DNSNames)
	assert.InDelta(t, 89, info.DaysLeft(), 1)

	_, err = LoadTLS(certFile, filepath.Join(t.TempDir(), "missing.pem"), logger)
	assert.Error(t, err)

	_, err = ReadCertificateInfo(keyFile)
	assert.Error(t, err)
}
