package schemas_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offchain-exchange/go-backend/internal/crypto"
	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/internal/offchain/schemas"
	"offchain-exchange/go-backend/internal/testutil/offchainenv"
	"offchain-exchange/go-backend/internal/wallet"
	"offchain-exchange/go-backend/pkg/models"
)

func TestNameAccessorRoundTrip(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	if err := schemas.NewNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "Alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := schemas.NewNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Name != "Alice" {
		t.Fatalf("unexpected name %q", got.Name)
	}
}

func TestNameAccessorMissingData(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")

	res := schemas.NewNameAccessor(bob.Wrapper).ReadAsResult(context.Background(), alice.Address())
	if res.OK {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, schemas.ErrOffchain) || !errors.Is(res.Err, offchain.ErrNoStorageRoot) {
		t.Fatalf("expected OffchainError(NoStorageRoot), got %v", res.Err)
	}
}

func TestNameAccessorInvalidData(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	for _, raw := range []string{`not json`, `{"nickname":"Alice"}`, `{"name":42}`} {
		if err := alice.Wrapper.WriteSigned(ctx, schemas.NamePath, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := schemas.NewNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
		if !errors.Is(err, schemas.ErrInvalidData) {
			t.Fatalf("%s: expected InvalidDataError, got %v", raw, err)
		}
	}
}

func TestNameAccessorRejectsUnauthorizedSigner(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	mallory := env.NewActor(t, "mallory")
	ctx := context.Background()

	forged := env.NewWrapper(t, alice, mallory.Wallet, mallory.Address())
	if err := schemas.NewNameAccessor(forged).Write(ctx, models.Name{Name: "Mallory"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := schemas.NewNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
	if !errors.Is(err, schemas.ErrOffchain) || !errors.Is(err, offchain.ErrInvalidSignature) {
		t.Fatalf("expected OffchainError(InvalidSignature), got %v", err)
	}
}

func TestAuthorizedSignerAccessor(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	delegate := env.NewActor(t, "delegate")
	ctx := context.Background()

	record, err := offchain.NewAuthorizedSigner(ctx, delegate.Wallet, delegate.Address(), alice.Address(), "account/name")
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	signers := schemas.NewAuthorizedSignerAccessor(alice.Wrapper)
	if err := signers.Write(ctx, record); err != nil {
		t.Fatalf("write record: %v", err)
	}
	stored, err := schemas.NewAuthorizedSignerAccessor(bob.Wrapper).Read(ctx, alice.Address(), delegate.Address())
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if stored != record {
		t.Fatalf("record = %+v, want %+v", stored, record)
	}

	delegated := env.NewWrapper(t, alice, delegate.Wallet, delegate.Address())
	if err := schemas.NewNameAccessor(delegated).Write(ctx, models.Name{Name: "Alice (via delegate)"}); err != nil {
		t.Fatalf("delegated write: %v", err)
	}
	got, err := schemas.NewNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Name != "Alice (via delegate)" {
		t.Fatalf("unexpected name %q", got.Name)
	}

	if err := signers.Write(ctx, models.AuthorizedSigner{Address: "nope"}); !errors.Is(err, schemas.ErrInvalidData) {
		t.Fatalf("expected InvalidDataError, got %v", err)
	}
}

func TestEncryptedNameWriterToReader(t *testing.T) {
	env := offchainenv.New()
	writer := env.NewActor(t, "writer", offchainenv.WithRoot("http://example.com/root"))
	reader := env.NewActor(t, "reader")
	third := env.NewActor(t, "third")
	ctx := context.Background()

	if err := schemas.NewEncryptedNameAccessor(writer.Wrapper).Write(ctx, models.Name{Name: "test"}, []common.Address{reader.Address()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := env.Store.Get("http://example.com/root/account/name.enc"); !ok {
		t.Fatal("expected ciphertext at the writer's root")
	}
	if _, ok := env.Store.Get("http://example.com/root/account/name"); ok {
		t.Fatal("plaintext must not be stored")
	}

	got, err := schemas.NewEncryptedNameAccessor(reader.Wrapper).Read(ctx, writer.Address())
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if got.Name != "test" {
		t.Fatalf("unexpected name %q", got.Name)
	}

	own, err := schemas.NewEncryptedNameAccessor(writer.Wrapper).Read(ctx, writer.Address())
	if err != nil {
		t.Fatalf("writer reading its own data: %v", err)
	}
	if own.Name != "test" {
		t.Fatalf("unexpected name %q", own.Name)
	}

	_, err = schemas.NewEncryptedNameAccessor(third.Wrapper).Read(ctx, writer.Address())
	if !errors.Is(err, schemas.ErrOffchain) || !errors.Is(err, offchain.ErrNoStorageRoot) {
		t.Fatalf("expected OffchainError(NoStorageRoot) for a non-recipient, got %v", err)
	}
}

func keyLabel(t *testing.T, sender, receiver *offchainenv.Actor, dataPath string) string {
	t.Helper()
	secret, err := crypto.SharedSecret(receiver.Keys.DataEncryption, &sender.Keys.DataEncryption.PublicKey)
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}
	return schemas.CiphertextLabel(secret, sender.Keys.CompressedDEK(), receiver.Keys.CompressedDEK(), dataPath+".key")
}

func unwrapFor(t *testing.T, env *offchainenv.Env, sender, receiver *offchainenv.Actor, dataPath string) []byte {
	t.Helper()
	wrapped, ok := env.Store.Get(sender.URL(keyLabel(t, sender, receiver, dataPath)))
	if !ok {
		t.Fatalf("no wrapped key for %s", receiver.Name)
	}
	key, err := crypto.UnwrapKey(receiver.Keys.DataEncryption, wrapped)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	return key
}

func TestCiphertextLabelAgreement(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")

	fromAlice, err := crypto.SharedSecret(alice.Keys.DataEncryption, &bob.Keys.DataEncryption.PublicKey)
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}
	fromBob, err := crypto.SharedSecret(bob.Keys.DataEncryption, &alice.Keys.DataEncryption.PublicKey)
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}
	writerView := schemas.CiphertextLabel(fromAlice, alice.Keys.CompressedDEK(), bob.Keys.CompressedDEK(), "account/name.key")
	readerView := schemas.CiphertextLabel(fromBob, alice.Keys.CompressedDEK(), bob.Keys.CompressedDEK(), "account/name.key")
	if writerView != readerView {
		t.Fatalf("labels disagree: %q vs %q", writerView, readerView)
	}

	if err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(context.Background(), models.Name{Name: "x"}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := env.Store.Get(alice.URL(writerView)); !ok {
		t.Fatalf("expected wrapped key at %s", writerView)
	}
	if _, ok := env.Store.Get(alice.URL(writerView + offchain.SignatureSuffix)); !ok {
		t.Fatal("expected wrapped key signature")
	}
}

func TestEncryptedWriteReusesContentKey(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()
	names := schemas.NewEncryptedNameAccessor(alice.Wrapper)

	if err := names.Write(ctx, models.Name{Name: "first"}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first := unwrapFor(t, env, alice, bob, schemas.NamePath)
	firstSelf := unwrapFor(t, env, alice, alice, schemas.NamePath)
	if !bytes.Equal(first, firstSelf) {
		t.Fatal("self and recipient copies differ")
	}

	if err := names.Write(ctx, models.Name{Name: "second"}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if second := unwrapFor(t, env, alice, bob, schemas.NamePath); !bytes.Equal(first, second) {
		t.Fatal("expected the content key to be reused")
	}
	got, err := schemas.NewEncryptedNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
	if err != nil || got.Name != "second" {
		t.Fatalf("read = %+v, %v", got, err)
	}

	explicit := bytes.Repeat([]byte{0x42}, crypto.ContentKeySize)
	if err := names.Write(ctx, models.Name{Name: "third"}, []common.Address{bob.Address()}, explicit); err != nil {
		t.Fatalf("explicit key write: %v", err)
	}
	if got := unwrapFor(t, env, alice, bob, schemas.NamePath); !bytes.Equal(got, explicit) {
		t.Fatal("expected the supplied key to be distributed")
	}
}

func TestEncryptedWriteRejectsShortKey(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")

	err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(context.Background(), models.Name{Name: "x"}, nil, []byte("short"))
	if !errors.Is(err, schemas.ErrInvalidKey) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
}

func TestEncryptedReadRejectsShortDistributedKey(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	if err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "x"}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	wrapped, err := crypto.WrapKey(&bob.Keys.DataEncryption.PublicKey, []byte("8 bytes!"))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	label := keyLabel(t, alice, bob, schemas.NamePath)
	sig, err := alice.Wrapper.SignBuffer(ctx, label, wrapped)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := alice.Wrapper.WriteDataTo(ctx, wrapped, sig, label); err != nil {
		t.Fatalf("overwrite key: %v", err)
	}

	_, err = schemas.NewEncryptedNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
	if !errors.Is(err, schemas.ErrInvalidKey) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
}

func TestEncryptedReadRejectsTruncatedPayload(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	if err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "x"}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := alice.Wrapper.WriteSigned(ctx, schemas.NamePath+".enc", []byte("short")); err != nil {
		t.Fatalf("overwrite payload: %v", err)
	}
	_, err := schemas.NewEncryptedNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
	if !errors.Is(err, schemas.ErrInvalidData) {
		t.Fatalf("expected InvalidDataError, got %v", err)
	}
}

func TestEncryptedReadWithoutPublishedReaderKey(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob", offchainenv.WithoutDEK())
	ctx := context.Background()

	if err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "x"}, nil, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := schemas.NewEncryptedNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
	if !errors.Is(err, schemas.ErrUnavailableKey) {
		t.Fatalf("expected UnavailableKey, got %v", err)
	}

	err = schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "x"}, []common.Address{bob.Address()}, nil)
	var serr *schemas.Error
	if !errors.As(err, &serr) || serr.Kind != schemas.KindUnavailableKey || serr.Address != bob.Address() {
		t.Fatalf("expected UnavailableKey for bob, got %v", err)
	}
}

func TestEncryptedReadWithoutReaderKeyInWallet(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	if err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "x"}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	accountOnly := env.NewWrapper(t, bob, wallet.NewLocal(bob.Keys.Account), bob.Address())
	_, err := schemas.NewEncryptedNameAccessor(accountOnly).Read(ctx, alice.Address())
	var serr *schemas.Error
	if !errors.As(err, &serr) || serr.Kind != schemas.KindUnavailableKey || serr.Address != bob.Keys.DEKAddress() {
		t.Fatalf("expected UnavailableKey for the DEK account, got %v", err)
	}
	if !errors.Is(err, wallet.ErrAccountNotFound) {
		t.Fatalf("expected wallet cause, got %v", err)
	}
}

func TestEncryptedWriteWithoutOwnKey(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice", offchainenv.WithoutDEK())

	err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(context.Background(), models.Name{Name: "x"}, nil, nil)
	if !errors.Is(err, schemas.ErrUnavailableKey) {
		t.Fatalf("expected UnavailableKey, got %v", err)
	}
}

func TestEncryptedWithRawKeys(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice", offchainenv.WithoutDEK())
	bob := env.NewActor(t, "bob", offchainenv.WithoutDEK())
	ctx := context.Background()

	names := schemas.NewEncryptedNameAccessor(alice.Wrapper)
	if err := names.WriteEncryptedWithKey(ctx, models.Name{Name: "direct"}, alice.Keys.DataEncryption, &bob.Keys.DataEncryption.PublicKey); err != nil {
		t.Fatalf("write: %v", err)
	}

	res := schemas.NewEncryptedNameAccessor(bob.Wrapper).ReadEncryptedWithKey(ctx, alice.Address(), bob.Keys.DataEncryption, &alice.Keys.DataEncryption.PublicKey)
	if !res.OK {
		t.Fatalf("read: %v", res.Err)
	}
	if res.Value.Name != "direct" {
		t.Fatalf("unexpected name %q", res.Value.Name)
	}

	// The registry still has no keys, so the regular path cannot decrypt.
	res = schemas.NewEncryptedNameAccessor(bob.Wrapper).ReadEncrypted(ctx, alice.Address())
	if res.OK || !errors.Is(res.Err, schemas.ErrUnavailableKey) {
		t.Fatalf("expected UnavailableKey, got %+v", res)
	}

	if err := names.WriteEncryptedWithKey(ctx, models.Name{Name: "x"}, nil, nil); !errors.Is(err, schemas.ErrUnavailableKey) {
		t.Fatalf("expected UnavailableKey without keys, got %v", err)
	}
}

func TestDistributeFailsWhenAnyRecipientFails(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	carol := env.NewActor(t, "carol", offchainenv.WithoutDEK())

	key := bytes.Repeat([]byte{1}, crypto.ContentKeySize)
	err := schemas.Distribute(context.Background(), alice.Wrapper, "files/doc", key, []common.Address{bob.Address(), carol.Address()})
	if !errors.Is(err, schemas.ErrUnavailableKey) {
		t.Fatalf("expected UnavailableKey, got %v", err)
	}

	if err := schemas.Distribute(context.Background(), alice.Wrapper, "files/doc", key, []common.Address{bob.Address()}); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := unwrapFor(t, env, alice, bob, "files/doc"); !bytes.Equal(got, key) {
		t.Fatal("bob received a different key")
	}
}

func TestWriteEncryptedRawBytes(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	if err := schemas.WriteEncrypted(ctx, alice.Wrapper, "files/blob", []byte{0, 1, 2, 3}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := schemas.ReadEncrypted(ctx, bob.Wrapper, "files/blob", alice.Address())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0, 1, 2, 3}) {
		t.Fatalf("unexpected plaintext %x", got)
	}
}

func TestEncryptedNameToSeveralRecipients(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	carol := env.NewActor(t, "carol")
	ctx := context.Background()

	to := []common.Address{bob.Address(), carol.Address()}
	if err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "shared"}, to, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, reader := range []*offchainenv.Actor{bob, carol, alice} {
		got, err := schemas.NewEncryptedNameAccessor(reader.Wrapper).Read(ctx, alice.Address())
		if err != nil {
			t.Fatalf("%s: read: %v", reader.Name, err)
		}
		if got.Name != "shared" {
			t.Fatalf("%s: unexpected name %q", reader.Name, got.Name)
		}
	}
	if !bytes.Equal(unwrapFor(t, env, alice, bob, schemas.NamePath), unwrapFor(t, env, alice, carol, schemas.NamePath)) {
		t.Fatal("recipients must share one content key")
	}
}

func TestEncryptedResultForms(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	names := schemas.NewEncryptedNameAccessor(alice.Wrapper)
	if res := names.WriteAsResult(ctx, models.Name{Name: "result"}, []common.Address{bob.Address()}, nil); !res.OK {
		t.Fatalf("write: %v", res.Err)
	}
	if res := schemas.NewEncryptedNameAccessor(bob.Wrapper).ReadAsResult(ctx, alice.Address()); !res.OK || res.Value.Name != "result" {
		t.Fatalf("unexpected read result %+v", res)
	}
	res := names.WriteAsResult(ctx, models.Name{Name: "short"}, nil, []byte{1})
	if res.OK || !errors.Is(res.Err, schemas.ErrInvalidKey) {
		t.Fatalf("expected InvalidKey result, got %+v", res)
	}

	direct := schemas.NewEncryptedSchema[models.Name](alice.Wrapper, "account/direct", schemas.NameShape)
	if res := direct.WriteEncryptedWithKeyAsResult(ctx, models.Name{Name: "direct"}, alice.Keys.DataEncryption, &bob.Keys.DataEncryption.PublicKey); !res.OK {
		t.Fatalf("write with key: %v", res.Err)
	}
	got, err := schemas.NewEncryptedSchema[models.Name](bob.Wrapper, "account/direct", schemas.NameShape).
		ReadWithKey(ctx, alice.Address(), bob.Keys.DataEncryption, &alice.Keys.DataEncryption.PublicKey)
	if err != nil {
		t.Fatalf("read with key: %v", err)
	}
	if got.Name != "direct" {
		t.Fatalf("unexpected name %q", got.Name)
	}
	if res := direct.WriteEncryptedWithKeyAsResult(ctx, models.Name{Name: "x"}, nil, nil); res.OK || !errors.Is(res.Err, schemas.ErrUnavailableKey) {
		t.Fatalf("expected UnavailableKey result, got %+v", res)
	}
	if _, err := direct.ReadWithKey(ctx, alice.Address(), nil, nil); !errors.Is(err, schemas.ErrUnavailableKey) {
		t.Fatalf("expected UnavailableKey, got %v", err)
	}

	if res := schemas.WriteEncryptedAsResult(ctx, alice.Wrapper, "files/blob", []byte("raw"), []common.Address{bob.Address()}, nil); !res.OK {
		t.Fatalf("write raw: %v", res.Err)
	}
	if res := schemas.ReadEncryptedAsResult(ctx, bob.Wrapper, "files/blob", alice.Address()); !res.OK || string(res.Value) != "raw" {
		t.Fatalf("unexpected raw read result %+v", res)
	}
	if res := schemas.ReadEncryptedAsResult(ctx, bob.Wrapper, "files/none", alice.Address()); res.OK || !errors.Is(res.Err, schemas.ErrOffchain) {
		t.Fatalf("expected OffchainError result, got %+v", res)
	}
	key := bytes.Repeat([]byte{2}, crypto.ContentKeySize)
	if res := schemas.DistributeAsResult(ctx, alice.Wrapper, "files/doc", key, []common.Address{bob.Address()}); !res.OK {
		t.Fatalf("distribute: %v", res.Err)
	}
}

type noteName struct {
	Name string `json:"name"`
	Note string `json:"note"`
}

func TestSchemaKeepsOnlySignedFields(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	notes := schemas.NewSchema[noteName](alice.Wrapper, schemas.NamePath, schemas.NameShape)
	if err := notes.Write(ctx, noteName{Name: "Alice", Note: "unsigned"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, ok := env.Store.Get(alice.URL(schemas.NamePath))
	if !ok {
		t.Fatal("expected stored payload")
	}
	if string(raw) != `{"name":"Alice"}` {
		t.Fatalf("fields outside the shape must not be stored, got %s", raw)
	}

	// A blob carrying an extra field next to a valid signature over the shape.
	td, err := offchain.BuildTypedDataForPayload(alice.Wrapper.ChainID(), schemas.NamePath, schemas.NameShape, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("typed data: %v", err)
	}
	sig, err := alice.Wrapper.SignTypedData(ctx, td)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := alice.Wrapper.WriteDataTo(ctx, []byte(`{"name":"Alice","note":"injected"}`), sig, schemas.NamePath); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	got, err := schemas.NewSchema[noteName](bob.Wrapper, schemas.NamePath, schemas.NameShape).Read(ctx, alice.Address())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Name != "Alice" || got.Note != "" {
		t.Fatalf("unsigned field leaked into the result: %+v", got)
	}
}

func TestEncryptedReadCancelsSlowerFetchOnFailure(t *testing.T) {
	env := offchainenv.New()
	alice := env.NewActor(t, "alice")
	bob := env.NewActor(t, "bob")
	ctx := context.Background()

	if err := schemas.NewEncryptedNameAccessor(alice.Wrapper).Write(ctx, models.Name{Name: "slow"}, []common.Address{bob.Address()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	payloadURL := alice.URL(schemas.NamePath + ".enc")
	release := env.Store.HoldReads(payloadURL)
	t.Cleanup(release)
	env.Store.Delete(alice.URL(keyLabel(t, alice, bob, schemas.NamePath)))

	done := make(chan error, 1)
	go func() {
		_, err := schemas.NewEncryptedNameAccessor(bob.Wrapper).Read(ctx, alice.Address())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, schemas.ErrOffchain) || !errors.Is(err, offchain.ErrNoStorageRoot) {
			t.Fatalf("expected OffchainError(NoStorageRoot), got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read waited for the held payload fetch")
	}

	deadline := time.Now().Add(5 * time.Second)
	for env.Store.CancelledReads(payloadURL) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("payload fetch was not cancelled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
