package fetch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// metadataFixture is a minimal stand-in for a cloud IMDSv2-style metadata
// endpoint: a token-gated handler serving fake credentials over loopback.
// It exists only to prove the policy layer denies the well-known
// 169.254.169.254 metadata address before any such server would ever be
// reached, not to broker real credentials.
type metadataFixture struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	server *httptest.Server
}

func newMetadataFixture() *metadataFixture {
	f := &metadataFixture{tokens: make(map[string]time.Time)}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /latest/api/token", f.handleToken)
	mux.HandleFunc("GET /latest/meta-data/iam/security-credentials/role", f.handleCreds)
	f.server = httptest.NewServer(mux)
	return f
}

func (f *metadataFixture) handleToken(w http.ResponseWriter, r *http.Request) {
	b := make([]byte, 16)
	rand.Read(b)
	token := base64.URLEncoding.EncodeToString(b)

	f.mu.Lock()
	f.tokens[token] = time.Now().Add(time.Minute)
	f.mu.Unlock()

	w.Write([]byte(token))
}

func (f *metadataFixture) handleCreds(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-fixture-token")
	f.mu.Lock()
	_, ok := f.tokens[token]
	f.mu.Unlock()
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	fmt.Fprint(w, `{"AccessKeyId":"fake","SecretAccessKey":"fake"}`)
}

func (f *metadataFixture) Close() { f.server.Close() }

func TestPolicy_DeniesCloudMetadataAddress(t *testing.T) {
	p := &Policy{DenyPrivateIPs: true}
	if err := p.checkIP(net.ParseIP("169.254.169.254")); err == nil {
		t.Fatal("expected cloud metadata address to be denied")
	}
}

func TestClient_DeniesMetadataFixtureOverLoopback(t *testing.T) {
	fixture := newMetadataFixture()
	defer fixture.Close()

	// The fixture binds to 127.0.0.1, which is loopback regardless of its
	// port; a client with DenyPrivateIPs must never reach its handlers.
	c := New(&Policy{DenyPrivateIPs: true})
	_, err := c.Do(context.Background(), Request{URL: fixture.server.URL + "/latest/meta-data/iam/security-credentials/role"})
	if err == nil {
		t.Fatal("expected metadata fixture request to be denied")
	}
}
