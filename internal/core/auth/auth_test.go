package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecret = []byte("testsecret1234567890abcdefghijklmnop")

type keyRow struct {
	tenant   string
	revoked  bool
	lastUsed sql.NullTime
}

// fakeQueries serves get-api-key-by-hash from an in-memory table.
type fakeQueries struct {
	rows    map[string]keyRow
	err     error
	updates int
}

func (q *fakeQueries) Get(name string, dest interface{}, args ...interface{}) error {
	if q.err != nil {
		return q.err
	}
	if name != "get-api-key-by-hash" {
		return errors.New("unexpected query " + name)
	}
	row, ok := q.rows[string(args[0].([]byte))]
	if !ok {
		return sql.ErrNoRows
	}
	v := reflect.ValueOf(dest).Elem()
	v.FieldByName("TenantID").SetString(row.tenant)
	v.FieldByName("APIKeyID").SetString("key-1")
	if row.revoked {
		v.FieldByName("RevokedAt").Set(reflect.ValueOf(sql.NullTime{Time: time.Now(), Valid: true}))
	}
	v.FieldByName("LastUsedAt").Set(reflect.ValueOf(row.lastUsed))
	return nil
}

func (q *fakeQueries) Exec(name string, args ...interface{}) (sql.Result, error) {
	q.updates++
	return nil, nil
}

func newKey(t *testing.T) (string, []byte) {
	t.Helper()
	key, hash, err := GenerateAPIKey(testSecretID, testSecret)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	return key, hash
}

func TestParseAPIKey(t *testing.T) {
	valid := FormatAPIKey(testSecretID, strings.Repeat("ab", 32))

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", valid, false},
		{"wrong prefix", strings.Replace(valid, "fk-", "tk-", 1), true},
		{"wrong version", strings.Replace(valid, "-v1-", "-v2-", 1), true},
		{"short secret id", "fk-v1-0123-" + strings.Repeat("ab", 32), true},
		{"short random", "fk-v1-" + testSecretID + "-abcd", true},
		{"uppercase hex", "fk-v1-" + strings.ToUpper(testSecretID) + "-" + strings.Repeat("ab", 32), true},
		{"extra segment", valid + "-x", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secretID, random, err := ParseAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKeyFormat) {
					t.Errorf("expected ErrInvalidKeyFormat, got %v", err)
				}
				return
			}
			if secretID != testSecretID || len(random) != 64 {
				t.Errorf("ParseAPIKey() = %q, %q", secretID, random)
			}
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash := newKey(t)
	if len(key) != APIKeyLength || APIKeyLength != 103 {
		t.Errorf("key length = %d, APIKeyLength = %d, want 103", len(key), APIKeyLength)
	}
	if !VerifyHMAC(hash, ComputeHMAC(testSecret, key)) {
		t.Error("hash does not verify against the key")
	}
	other, _ := newKey(t)
	if other == key {
		t.Error("two generated keys are identical")
	}
}

func TestAuthenticate(t *testing.T) {
	key, hash := newKey(t)
	revokedKey, revokedHash := newKey(t)
	unknownSecret := FormatAPIKey("fedcba9876543210fedcba9876543210", strings.Repeat("cd", 32))
	unstoredKey, _ := newKey(t)

	q := &fakeQueries{rows: map[string]keyRow{
		string(hash):        {tenant: "acme"},
		string(revokedHash): {tenant: "acme", revoked: true},
	}}
	a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q, zerolog.Nop())

	tests := []struct {
		name    string
		key     string
		want    string
		wantErr error
		code    codes.Code
	}{
		{"valid key", key, "acme", nil, codes.OK},
		{"malformed", "nope", "", ErrInvalidKeyFormat, codes.Unauthenticated},
		{"unknown secret id", unknownSecret, "", ErrUnknownKey, codes.Unauthenticated},
		{"not stored", unstoredKey, "", ErrInvalidKey, codes.Unauthenticated},
		{"revoked", revokedKey, "", ErrKeyRevoked, codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(context.Background(), tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %q, want %q", got, tt.want)
			}
			if err != nil && Code(err) != tt.code {
				t.Errorf("Code() = %v, want %v", Code(err), tt.code)
			}
		})
	}

	t.Run("store failure is unavailable", func(t *testing.T) {
		broken := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, &fakeQueries{err: errors.New("disk gone")}, zerolog.Nop())
		_, err := broken.Authenticate(context.Background(), key)
		if Code(err) != codes.Unavailable {
			t.Errorf("Code() = %v, want Unavailable", Code(err))
		}
		if HTTPStatus(err) != http.StatusServiceUnavailable {
			t.Errorf("HTTPStatus() = %d", HTTPStatus(err))
		}
	})
}

func TestAuthenticate_LastUsedThrottle(t *testing.T) {
	key, hash := newKey(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastUsed sql.NullTime
		want     int
	}{
		{"never used", sql.NullTime{}, 1},
		{"used seconds ago", sql.NullTime{Time: now.Add(-10 * time.Second), Valid: true}, 0},
		{"used minutes ago", sql.NullTime{Time: now.Add(-5 * time.Minute), Valid: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueries{rows: map[string]keyRow{string(hash): {tenant: "acme", lastUsed: tt.lastUsed}}}
			a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q, zerolog.Nop())
			a.now = func() time.Time { return now }
			if _, err := a.Authenticate(context.Background(), key); err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if q.updates != tt.want {
				t.Errorf("updates = %d, want %d", q.updates, tt.want)
			}
		})
	}
}

func TestUnaryInterceptor(t *testing.T) {
	key, hash := newKey(t)
	q := &fakeQueries{rows: map[string]keyRow{string(hash): {tenant: "acme"}}}
	a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q, zerolog.Nop())
	interceptor := a.UnaryInterceptor("/grpc.health.v1.Health/Check")

	var seen string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = TenantIDFromContext(ctx)
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/formkeeper.v1.FormService/Validate"}

	t.Run("valid key", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(HeaderAPIKey, key))
		if _, err := interceptor(ctx, nil, info, handler); err != nil {
			t.Fatalf("interceptor error = %v", err)
		}
		if seen != "acme" {
			t.Errorf("tenant = %q, want acme", seen)
		}
	})

	t.Run("missing metadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, info, handler)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("code = %v, want Unauthenticated", status.Code(err))
		}
	})

	t.Run("missing key", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("other", "x"))
		_, err := interceptor(ctx, nil, info, handler)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("code = %v, want Unauthenticated", status.Code(err))
		}
	})

	t.Run("skipped method", func(t *testing.T) {
		skipped := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
		if _, err := interceptor(context.Background(), nil, skipped, handler); err != nil {
			t.Errorf("skipped method required auth: %v", err)
		}
	})
}

func TestMiddleware(t *testing.T) {
	key, hash := newKey(t)
	q := &fakeQueries{rows: map[string]keyRow{string(hash): {tenant: "acme"}}}
	a := NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q, zerolog.Nop())
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(TenantIDFromContext(r.Context())))
	}))

	tests := []struct {
		name   string
		key    string
		status int
		body   string
	}{
		{"valid", key, http.StatusOK, "acme"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"malformed", "fk-v1-x", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/forms/x/validate", nil)
			if tt.key != "" {
				req.Header.Set(HeaderAPIKey, tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}
