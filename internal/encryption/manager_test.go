package encryption

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeKMS wraps data keys by XOR with a fixed pad and counts calls.
type fakeKMS struct {
	pad       []byte
	generates atomic.Int64
	decrypts  atomic.Int64
	fail      bool
}

func newFakeKMS() *fakeKMS {
	return &fakeKMS{pad: bytes.Repeat([]byte{0x5a}, 32)}
}

func (f *fakeKMS) xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i := range in {
		out[i] = in[i] ^ f.pad[i%len(f.pad)]
	}
	return out
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generates.Add(1)
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &kms.GenerateDataKeyOutput{
		KeyId:          in.KeyId,
		Plaintext:      key,
		CiphertextBlob: f.xor(key),
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decrypts.Add(1)
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	return &kms.DecryptOutput{KeyId: in.KeyId, Plaintext: f.xor(in.CiphertextBlob)}, nil
}

func localManager(t *testing.T) *Manager {
	t.Helper()
	w, err := NewLocalWrapper(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return NewManager(w, time.Hour, zap.NewNop())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := localManager(t)

	for _, in := range []string{"jordan@example.com", "+1 555 0100", "Zoë O'Brien <b>"} {
		sealed, err := m.EncryptField(ctx, in)
		require.NoError(t, err)
		assert.True(t, IsEncrypted(sealed))
		assert.NotContains(t, sealed, in)

		out, err := m.DecryptField(ctx, sealed)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestEncryptFieldIsRandomized(t *testing.T) {
	ctx := context.Background()
	m := localManager(t)

	a, err := m.EncryptField(ctx, "same")
	require.NoError(t, err)
	b, err := m.EncryptField(ctx, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEmptyAndPlainValuesPassThrough(t *testing.T) {
	ctx := context.Background()
	m := localManager(t)

	sealed, err := m.EncryptField(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	out, err := m.DecryptField(ctx, "stored before encryption")
	require.NoError(t, err)
	assert.Equal(t, "stored before encryption", out)
}

func TestDecryptRejectsTamperedValue(t *testing.T) {
	ctx := context.Background()
	m := localManager(t)

	sealed, err := m.EncryptField(ctx, "jordan@example.com")
	require.NoError(t, err)

	wrapped, payload, ok := strings.Cut(strings.TrimPrefix(sealed, fieldPrefix), ":")
	require.True(t, ok)
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01
	tampered := fieldPrefix + wrapped + ":" + base64.StdEncoding.EncodeToString(raw)

	_, err = m.DecryptField(ctx, tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = m.DecryptField(ctx, fieldPrefix+"no-separator")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptWithOtherMasterKeyFails(t *testing.T) {
	ctx := context.Background()
	sealed, err := localManager(t).EncryptField(ctx, "secret")
	require.NoError(t, err)

	w, err := NewLocalWrapper(bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	_, err = NewManager(w, time.Hour, zap.NewNop()).DecryptField(ctx, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKMSDataKeyReusedWithinRotation(t *testing.T) {
	ctx := context.Background()
	fake := newFakeKMS()
	m := NewManager(NewKMSWrapper(fake, "alias/reports"), time.Hour, zap.NewNop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	first, err := m.EncryptField(ctx, "a")
	require.NoError(t, err)
	_, err = m.EncryptField(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.generates.Load())

	now = now.Add(2 * time.Hour)
	_, err = m.EncryptField(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.generates.Load())

	out, err := m.DecryptField(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "a", out)
	assert.Zero(t, fake.decrypts.Load(), "keys issued by this manager are cached")
	assert.Equal(t, 2, m.CacheSize())
}

func TestKMSUnwrapsAndCachesForeignKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeKMS()
	writer := NewManager(NewKMSWrapper(fake, "alias/reports"), time.Hour, zap.NewNop())
	sealed, err := writer.EncryptField(ctx, "jordan@example.com")
	require.NoError(t, err)

	reader := NewManager(NewKMSWrapper(fake, "alias/reports"), time.Hour, zap.NewNop())
	for i := 0; i < 3; i++ {
		out, err := reader.DecryptField(ctx, sealed)
		require.NoError(t, err)
		assert.Equal(t, "jordan@example.com", out)
	}
	assert.Equal(t, int64(1), fake.decrypts.Load())

	reader.ClearCache()
	assert.Zero(t, reader.CacheSize())
	_, err = reader.DecryptField(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.decrypts.Load())
}

func TestKMSFailuresSurfaceAsSentinels(t *testing.T) {
	ctx := context.Background()
	fake := newFakeKMS()
	sealed, err := NewManager(NewKMSWrapper(fake, "k"), 0, zap.NewNop()).EncryptField(ctx, "x")
	require.NoError(t, err)

	fake.fail = true
	m := NewManager(NewKMSWrapper(fake, "k"), 0, zap.NewNop())
	_, err = m.EncryptField(ctx, "x")
	assert.ErrorIs(t, err, ErrEncryptionFailed)
	_, err = m.DecryptField(ctx, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewLocalWrapperRequiresAES256Key(t *testing.T) {
	_, err := NewLocalWrapper([]byte("short"))
	assert.Error(t, err)
}

var _ KMSAPI = (*kms.Client)(nil)

func TestKMSWrapperSendsKeySpec(t *testing.T) {
	rec := &recordingKMS{fakeKMS: newFakeKMS()}
	_, err := NewKMSWrapper(rec, "alias/reports").GenerateDataKey(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.last)
	assert.Equal(t, "alias/reports", aws.ToString(rec.last.KeyId))
	assert.EqualValues(t, "AES_256", rec.last.KeySpec)
}

type recordingKMS struct {
	*fakeKMS
	last *kms.GenerateDataKeyInput
}

func (r *recordingKMS) GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, opts ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	r.last = in
	return r.fakeKMS.GenerateDataKey(ctx, in, opts...)
}
