package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/cache"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/storage"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

func testConfig() types.SecurityConfig {
	cfg := types.DefaultSecurityConfig()
	cfg.MasterKeyIterations = 1000
	cfg.WorkingKeyIterations = 100
	return cfg
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(context.Background(), []byte("test-application-secret"), testConfig(), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type profile struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Tags  []string `json:"tags"`
	Score int      `json:"score"`
}

func TestRoundTripAllClassificationsAndPIITypes(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	classifications := []types.DataClassification{
		types.ClassificationPublic,
		types.ClassificationInternal,
		types.ClassificationConfidential,
		types.ClassificationRestricted,
	}
	piiTypes := append([]types.PIIType{""}, types.AllPIITypes...)
	in := profile{ID: "u1", Email: "a@b.com", Tags: []string{"x", "y"}, Score: 42}

	for _, c := range classifications {
		for _, p := range piiTypes {
			env, err := s.Encrypt(ctx, in, c, p, "roundtrip")
			require.NoError(t, err, "%s/%s", c, p)

			assert.Equal(t, types.EnvelopeAlgorithm, env.Algorithm)
			assert.Equal(t, types.EnvelopeVersion, env.Version)
			assert.Equal(t, c, env.Classification)
			assert.Equal(t, p, env.PIIType)

			var out profile
			require.NoError(t, s.DecryptInto(ctx, env, "roundtrip", &out), "%s/%s", c, p)
			assert.Equal(t, in, out)
		}
	}

	stats := s.Stats()
	assert.Equal(t, uint64(len(classifications)*len(piiTypes)), stats.TotalEncrypts)
	assert.Equal(t, stats.TotalEncrypts, stats.TotalDecrypts)
	assert.Equal(t, uint64(len(piiTypes)), stats.ByClassification[types.ClassificationRestricted])
}

func TestRoundTripScalarValues(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	for _, v := range []any{"plain string", 3.5, true, nil, []any{"a", 1.0}, map[string]any{"k": "v"}} {
		env, err := s.Encrypt(ctx, v, types.ClassificationInternal, "", "scalars")
		require.NoError(t, err)

		var out any
		require.NoError(t, s.DecryptInto(ctx, env, "scalars", &out))
		assert.Equal(t, v, out)
	}
}

func TestEnvelopeFieldSizes(t *testing.T) {
	s := newTestService(t)
	env, err := s.Encrypt(context.Background(), "x", types.ClassificationConfidential, types.PIIEmail, "sizes")
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		value string
		size  int
	}{
		"iv":   {env.IV, types.IVSize},
		"salt": {env.Salt, types.SaltSize},
		"tag":  {env.Tag, types.TagSize},
	} {
		b, err := base64.StdEncoding.DecodeString(tc.value)
		require.NoError(t, err, name)
		assert.Len(t, b, tc.size, name)
	}
}

func TestEachEnvelopeUsesFreshSaltAndIV(t *testing.T) {
	s := newTestService(t)
	a, err := s.Encrypt(context.Background(), "same", types.ClassificationInternal, "", "ctx")
	require.NoError(t, err)
	b, err := s.Encrypt(context.Background(), "same", types.ClassificationInternal, "", "ctx")
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Data, b.Data)
}

func flipBit(t *testing.T, field string, bit int) string {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(field)
	require.NoError(t, err)
	b[bit/8] ^= 1 << (bit % 8)
	return base64.StdEncoding.EncodeToString(b)
}

func TestTamperDetection(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	env, err := s.Encrypt(ctx, map[string]string{"ssn": "123-45-6789"}, types.ClassificationRestricted, types.PIISSN, "tamper")
	require.NoError(t, err)

	dataBits := len(env.Data) / 4 * 3 * 8 / 2
	tests := []struct {
		name   string
		mutate func(e types.Envelope) types.Envelope
	}{
		{"ciphertext first bit", func(e types.Envelope) types.Envelope { e.Data = flipBit(t, e.Data, 0); return e }},
		{"ciphertext middle bit", func(e types.Envelope) types.Envelope { e.Data = flipBit(t, e.Data, dataBits); return e }},
		{"tag first bit", func(e types.Envelope) types.Envelope { e.Tag = flipBit(t, e.Tag, 0); return e }},
		{"tag last bit", func(e types.Envelope) types.Envelope { e.Tag = flipBit(t, e.Tag, types.TagSize*8-1); return e }},
		{"iv bit", func(e types.Envelope) types.Envelope { e.IV = flipBit(t, e.IV, 7); return e }},
		{"salt bit", func(e types.Envelope) types.Envelope { e.Salt = flipBit(t, e.Salt, 100); return e }},
		{"classification swap", func(e types.Envelope) types.Envelope {
			e.Classification = types.ClassificationConfidential
			return e
		}},
		{"pii type swap", func(e types.Envelope) types.Envelope { e.PIIType = types.PIIEmail; return e }},
		{"timestamp shift", func(e types.Envelope) types.Envelope { e.Timestamp--; return e }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := tt.mutate(*env)
			out, err := s.Decrypt(ctx, &tampered, "tamper")
			assert.Nil(t, out)
			assert.True(t, errors.Is(err, types.ErrDecryption), "got %v", err)
		})
	}

	_, err = s.Decrypt(ctx, env, "other-context")
	assert.ErrorIs(t, err, types.ErrDecryption, "wrong context must not decrypt")
	assert.Equal(t, uint64(len(tests)+1), s.Stats().FailedDecrypts)
}

func TestFreshnessWindow(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-25 * time.Hour)
	old := newTestService(t, WithClock(func() time.Time { return past }))

	env, err := old.Encrypt(ctx, "stale", types.ClassificationInternal, "", "fresh")
	require.NoError(t, err)

	// The same service with a current clock must reject it
	old.now = time.Now
	_, err = old.Decrypt(ctx, env, "fresh")
	assert.ErrorIs(t, err, types.ErrExpiredData)

	recent := time.Now().Add(-23 * time.Hour)
	old.now = func() time.Time { return recent }
	env, err = old.Encrypt(ctx, "recent", types.ClassificationInternal, "", "fresh")
	require.NoError(t, err)
	old.now = time.Now
	_, err = old.Decrypt(ctx, env, "fresh")
	assert.NoError(t, err)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	good, err := s.Encrypt(ctx, "v", types.ClassificationInternal, "", "validate")
	require.NoError(t, err)

	tests := []struct {
		name    string
		env     *types.Envelope
		wantErr error
	}{
		{"nil envelope", nil, types.ErrValidation},
		{"missing data", func() *types.Envelope { e := *good; e.Data = ""; return &e }(), types.ErrValidation},
		{"missing tag", func() *types.Envelope { e := *good; e.Tag = ""; return &e }(), types.ErrValidation},
		{"unknown algorithm", func() *types.Envelope { e := *good; e.Algorithm = "ChaCha20-Poly1305"; return &e }(), types.ErrUnsupportedAlgorithm},
		{"bad version", func() *types.Envelope { e := *good; e.Version = 2; return &e }(), types.ErrValidation},
		{"short iv", func() *types.Envelope {
			e := *good
			e.IV = base64.StdEncoding.EncodeToString(make([]byte, 8))
			return &e
		}(), types.ErrValidation},
		{"bad base64", func() *types.Envelope { e := *good; e.Salt = "%%%"; return &e }(), types.ErrValidation},
		{"unknown classification", func() *types.Envelope { e := *good; e.Classification = "SECRET"; return &e }(), types.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decrypt(ctx, tt.env, "validate")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = s.Encrypt(ctx, "v", "SECRET", "", "validate")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = s.Encrypt(ctx, "v", types.ClassificationInternal, "PASSPORT", "validate")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = s.Encrypt(ctx, "v", types.ClassificationInternal, "", "")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = s.Encrypt(ctx, func() {}, types.ClassificationInternal, "", "validate")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestPersistedSessionSaltAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	secret := []byte("shared-secret")

	first, err := NewService(ctx, secret, testConfig(), store)
	require.NoError(t, err)
	env, err := first.Encrypt(ctx, "survives restart", types.ClassificationConfidential, "", "persist")
	require.NoError(t, err)
	first.Close()

	second, err := NewService(ctx, secret, testConfig(), store)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, first.SessionSalt(), second.SessionSalt())

	var out string
	require.NoError(t, second.DecryptInto(ctx, env, "persist", &out))
	assert.Equal(t, "survives restart", out)

	// Without the shared store a new session cannot open the envelope
	isolated := newTestService(t)
	_, err = isolated.Decrypt(ctx, env, "persist")
	assert.ErrorIs(t, err, types.ErrDecryption)
}

func TestKeyCacheUsage(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Encrypt(ctx, "a", types.ClassificationInternal, "", "cache")
	require.NoError(t, err)
	_, err = s.Encrypt(ctx, "b", types.ClassificationInternal, "", "cache")
	require.NoError(t, err)

	stats := s.keyCache.GetStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)

	s.FlushKeyCache()
	assert.Equal(t, 0, s.keyCache.GetStats().Size)
}

func TestConcurrentRoundTripsWithExpiringKeyCache(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, WithKeyCache(cache.NewKeyCache(&types.KeyCacheConfig{Enabled: true, TTL: time.Microsecond})))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				in := fmt.Sprintf("value-%d-%d", g, i)
				env, err := s.Encrypt(ctx, in, types.ClassificationConfidential, "", "concurrent")
				if !assert.NoError(t, err) {
					return
				}
				var out string
				if !assert.NoError(t, s.DecryptInto(ctx, env, "concurrent", &out)) {
					return
				}
				assert.Equal(t, in, out)
			}
		}(g)
	}
	wg.Wait()
}

func TestSessionSaltIsCopy(t *testing.T) {
	s := newTestService(t)
	salt := s.SessionSalt()
	require.Len(t, salt, types.SaltSize)
	salt[0] ^= 0xff
	assert.NotEqual(t, salt, s.SessionSalt())
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(context.Background(), nil, testConfig(), nil)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestClosedServiceRefusesWork(t *testing.T) {
	s, err := NewService(context.Background(), []byte("secret"), testConfig(), nil)
	require.NoError(t, err)
	s.Close()

	_, err = s.Encrypt(context.Background(), "v", types.ClassificationInternal, "", "closed")
	assert.Error(t, err)
}

func TestDecryptWithMaxAge(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-48 * time.Hour)
	s := newTestService(t, WithClock(func() time.Time { return past }))

	env, err := s.Encrypt(ctx, "at rest", types.ClassificationConfidential, "", "rest")
	require.NoError(t, err)
	s.now = time.Now

	_, err = s.DecryptWithMaxAge(ctx, env, "rest", 24*time.Hour)
	assert.ErrorIs(t, err, types.ErrExpiredData)

	out, err := s.DecryptWithMaxAge(ctx, env, "rest", 365*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, `"at rest"`, string(out))
}
