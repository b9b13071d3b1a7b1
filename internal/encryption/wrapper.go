package encryption

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSAPI is the subset of *kms.Client used for data keys.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSWrapper issues AES-256 data keys under one KMS key.
type KMSWrapper struct {
	client KMSAPI
	keyID  string
}

func NewKMSWrapper(client KMSAPI, keyID string) *KMSWrapper {
	return &KMSWrapper{client: client, keyID: keyID}
}

func (w *KMSWrapper) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	out, err := w.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(w.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &DataKey{
		Plaintext:  out.Plaintext,
		Ciphertext: out.CiphertextBlob,
		KeyID:      aws.ToString(out.KeyId),
	}, nil
}

func (w *KMSWrapper) UnwrapDataKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := w.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
		KeyId:          aws.String(w.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data key: %w", err)
	}
	return out.Plaintext, nil
}

// LocalWrapper wraps data keys with a static AES-256 master key. For
// development and tests; production deployments use KMS.
type LocalWrapper struct {
	master []byte
	keyID  string
}

func NewLocalWrapper(master []byte) (*LocalWrapper, error) {
	if len(master) != 32 {
		return nil, errors.New("local master key must be 32 bytes")
	}
	sum := sha256.Sum256(master)
	return &LocalWrapper{
		master: append([]byte(nil), master...),
		keyID:  "local-" + hex.EncodeToString(sum[:4]),
	}, nil
}

func (w *LocalWrapper) GenerateDataKey(_ context.Context) (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	gcm, err := newGCM(w.master)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: gcm.Seal(nonce, nonce, key, nil),
		KeyID:      w.keyID,
	}, nil
}

func (w *LocalWrapper) UnwrapDataKey(_ context.Context, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(w.master)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("wrapped key too short")
	}
	return gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
}
