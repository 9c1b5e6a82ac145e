package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"offchain-exchange/go-backend/internal/composition/node"
	"offchain-exchange/go-backend/internal/config"
	"offchain-exchange/go-backend/internal/identity"
	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/internal/offchain/schemas"
	"offchain-exchange/go-backend/internal/wallet"
	"offchain-exchange/go-backend/pkg/models"
)

const (
	exitOK             = 0
	exitInvalidInput   = 10
	exitNetworkFailed  = 20
	exitNoData         = 30
	exitTrustFailed    = 40
	exitKeyUnavailable = 50
	exitInvalidData    = 60
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error { return &exitError{code: code, err: err} }

func failf(code int, format string, args ...any) error {
	return fail(code, fmt.Errorf(format, args...))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitInvalidInput
	}
	var err error
	switch args[0] {
	case "keygen":
		err = runKeygen(args[1:])
	case "claim":
		err = runClaim(ctx, args[1:])
	case "write-name":
		err = runWriteName(ctx, args[1:])
	case "read-name":
		err = runReadName(ctx, args[1:])
	case "write-name-encrypted":
		err = runWriteNameEncrypted(ctx, args[1:])
	case "read-name-encrypted":
		err = runReadNameEncrypted(ctx, args[1:])
	case "authorize-signer":
		err = runAuthorizeSigner(ctx, args[1:])
	default:
		printUsage()
		return exitInvalidInput
	}
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintln(os.Stderr, err.Error())
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return exitCodeFor(err)
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", "offchain.key", "keyfile path")
	passphrase := fs.String("passphrase", os.Getenv("OFFCHAIN_WALLET_PASSPHRASE"), "keyfile passphrase")
	withMnemonic := fs.Bool("mnemonic", false, "derive keys from a new BIP-39 mnemonic and store it in the keyfile")
	if err := fs.Parse(args); err != nil {
		return fail(exitInvalidInput, err)
	}
	if strings.TrimSpace(*passphrase) == "" {
		return failf(exitInvalidInput, "passphrase is required")
	}

	var (
		mnemonic string
		keys     *wallet.Keys
		err      error
	)
	if *withMnemonic {
		mnemonic, err = wallet.NewMnemonic()
		if err == nil {
			keys, err = wallet.KeysFromMnemonic(mnemonic, "")
		}
	} else {
		keys, err = wallet.GenerateKeys()
	}
	if err != nil {
		return fail(exitInvalidInput, err)
	}
	if err := wallet.SaveKeyfile(*out, *passphrase, mnemonic, keys); err != nil {
		return fail(exitInvalidInput, err)
	}
	summary := map[string]any{
		"keyfile":             *out,
		"address":             keys.Address().Hex(),
		"data_encryption_key": hexutil.Encode(keys.CompressedDEK()),
		"dek_account":         keys.DEKAddress().Hex(),
	}
	if mnemonic != "" {
		summary["mnemonic"] = mnemonic
	}
	return printResult(summary)
}

func runClaim(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	configPath := fs.String("config", "", "offchain.yaml path")
	roots := fs.String("roots", "", "comma-separated storage root URLs (defaults to storage.root)")
	out := fs.String("out", "", "write the metadata document to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return fail(exitInvalidInput, err)
	}

	n, err := buildNode(*configPath)
	if err != nil {
		return err
	}
	list := splitCSV(*roots)
	if len(list) == 0 && n.Config.Storage.Root != "" {
		list = []string{n.Config.Storage.Root}
	}
	if len(list) == 0 {
		return failf(exitInvalidInput, "at least one storage root is required")
	}
	doc, err := identity.BuildMetadata(ctx, n.Wallet, n.Self(), list, time.Now())
	if err != nil {
		return fail(exitInvalidInput, err)
	}
	if *out == "" {
		return printResult(doc)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fail(exitInvalidInput, err)
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		return fail(exitInvalidInput, err)
	}
	return nil
}

func runWriteName(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("write-name", flag.ContinueOnError)
	configPath := fs.String("config", "", "offchain.yaml path")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return fail(exitInvalidInput, err)
	}
	if strings.TrimSpace(*name) == "" {
		return failf(exitInvalidInput, "name is required")
	}

	n, err := buildNode(*configPath)
	if err != nil {
		return err
	}
	if err := schemas.NewNameAccessor(n.Wrapper).Write(ctx, models.Name{Name: *name}); err != nil {
		return err
	}
	return printResult(map[string]any{"written": schemas.NamePath, "address": n.Self().Hex()})
}

func runReadName(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read-name", flag.ContinueOnError)
	configPath := fs.String("config", "", "offchain.yaml path")
	from := fs.String("from", "", "account to read from (defaults to self)")
	if err := fs.Parse(args); err != nil {
		return fail(exitInvalidInput, err)
	}

	n, err := buildNode(*configPath)
	if err != nil {
		return err
	}
	account, err := accountOrSelf(n, *from)
	if err != nil {
		return err
	}
	name, err := schemas.NewNameAccessor(n.Wrapper).Read(ctx, account)
	if err != nil {
		return err
	}
	return printResult(map[string]any{"address": account.Hex(), "name": name.Name})
}

func runWriteNameEncrypted(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("write-name-encrypted", flag.ContinueOnError)
	configPath := fs.String("config", "", "offchain.yaml path")
	name := fs.String("name", "", "display name")
	to := fs.String("to", "", "comma-separated recipient addresses")
	key := fs.String("key", "", "hex encoded 16-byte content key (optional)")
	if err := fs.Parse(args); err != nil {
		return fail(exitInvalidInput, err)
	}
	if strings.TrimSpace(*name) == "" {
		return failf(exitInvalidInput, "name is required")
	}
	recipients, err := parseAddresses(*to)
	if err != nil {
		return fail(exitInvalidInput, err)
	}
	var symmetricKey []byte
	if *key != "" {
		symmetricKey, err = hex.DecodeString(strings.TrimPrefix(*key, "0x"))
		if err != nil {
			return failf(exitInvalidInput, "key: %v", err)
		}
	}

	n, err := buildNode(*configPath)
	if err != nil {
		return err
	}
	accessor := schemas.NewEncryptedNameAccessor(n.Wrapper)
	if err := accessor.Write(ctx, models.Name{Name: *name}, recipients, symmetricKey); err != nil {
		return err
	}
	return printResult(map[string]any{"written": accessor.Path(), "recipients": len(recipients)})
}

func runReadNameEncrypted(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read-name-encrypted", flag.ContinueOnError)
	configPath := fs.String("config", "", "offchain.yaml path")
	from := fs.String("from", "", "sender account (defaults to self)")
	if err := fs.Parse(args); err != nil {
		return fail(exitInvalidInput, err)
	}

	n, err := buildNode(*configPath)
	if err != nil {
		return err
	}
	account, err := accountOrSelf(n, *from)
	if err != nil {
		return err
	}
	name, err := schemas.NewEncryptedNameAccessor(n.Wrapper).Read(ctx, account)
	if err != nil {
		return err
	}
	return printResult(map[string]any{"address": account.Hex(), "name": name.Name})
}

func runAuthorizeSigner(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("authorize-signer", flag.ContinueOnError)
	configPath := fs.String("config", "", "offchain.yaml path")
	signerKeyfile := fs.String("signer-keyfile", "", "keyfile of the delegate signer")
	signerPassphrase := fs.String("signer-passphrase", "", "passphrase of the delegate keyfile")
	filter := fs.String("filter", ".*", "regular expression of data paths the signer may write")
	if err := fs.Parse(args); err != nil {
		return fail(exitInvalidInput, err)
	}
	if *signerKeyfile == "" {
		return failf(exitInvalidInput, "signer-keyfile is required")
	}

	n, err := buildNode(*configPath)
	if err != nil {
		return err
	}
	delegate, err := wallet.LoadKeyfile(*signerKeyfile, *signerPassphrase)
	if err != nil {
		return fail(exitInvalidInput, err)
	}
	record, err := offchain.NewAuthorizedSigner(ctx, delegate.Wallet(), delegate.Address(), n.Self(), *filter)
	if err != nil {
		return fail(exitInvalidInput, err)
	}
	if err := schemas.NewAuthorizedSignerAccessor(n.Wrapper).Write(ctx, record); err != nil {
		return err
	}
	return printResult(map[string]any{
		"written":             offchain.AuthorizedSignerPath(delegate.Address()),
		"signer":              record.Address,
		"filtered_data_paths": record.FilteredDataPaths,
	})
}

func buildNode(configPath string) (*node.Node, error) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, fail(exitInvalidInput, err)
	}
	n, err := node.Build(cfg, node.Options{})
	if err != nil {
		return nil, fail(exitInvalidInput, err)
	}
	return n, nil
}

func accountOrSelf(n *node.Node, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return n.Self(), nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, failf(exitInvalidInput, "invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAddresses(raw string) ([]common.Address, error) {
	parts := splitCSV(raw)
	out := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		if !common.IsHexAddress(p) {
			return nil, fmt.Errorf("invalid address %q", p)
		}
		out = append(out, common.HexToAddress(p))
	}
	return out, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, schemas.ErrUnavailableKey), errors.Is(err, schemas.ErrInvalidKey):
		return exitKeyUnavailable
	case errors.Is(err, schemas.ErrInvalidData):
		return exitInvalidData
	case errors.Is(err, offchain.ErrInvalidSignature):
		return exitTrustFailed
	case errors.Is(err, offchain.ErrNoStorageRoot):
		return exitNoData
	default:
		return exitNetworkFailed
	}
}

func printResult(v any) error {
	if err := printJSON(v); err != nil {
		return fail(exitNetworkFailed, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	for _, line := range []string{
		"offchainctl <command> [flags]",
		"commands:",
		"  keygen                --out <path> --passphrase <p> [--mnemonic]",
		"  claim                 [--config path] [--roots url,...] [--out path]",
		"  write-name            [--config path] --name <name>",
		"  read-name             [--config path] [--from address]",
		"  write-name-encrypted  [--config path] --name <name> [--to address,...] [--key hex]",
		"  read-name-encrypted   [--config path] [--from address]",
		"  authorize-signer      [--config path] --signer-keyfile <path> [--signer-passphrase p] [--filter regex]",
	} {
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
}
