package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"offchain-exchange/go-backend/internal/config"
	"offchain-exchange/go-backend/internal/identity"
	"offchain-exchange/go-backend/internal/wallet"
)

func main() {
	var (
		outDir      = flag.String("out-dir", "", "output directory")
		roots       = flag.String("roots", "", "comma-separated storage root URLs")
		metadataURL = flag.String("metadata-url", "", "URL the metadata document will be served at (defaults to <first root>/metadata.json)")
		passphrase  = flag.String("passphrase", "", "keyfile passphrase")
		mnemonic    = flag.String("mnemonic", "", "derive keys from this mnemonic instead of generating a new one")
	)
	flag.Parse()

	if strings.TrimSpace(*outDir) == "" {
		fail("out-dir is required")
	}
	if strings.TrimSpace(*passphrase) == "" {
		fail("passphrase is required")
	}
	rootList := splitCSV(*roots)
	if len(rootList) == 0 {
		fail("roots is required")
	}
	docURL := strings.TrimSpace(*metadataURL)
	if docURL == "" {
		docURL = strings.TrimRight(rootList[0], "/") + "/metadata.json"
	}

	words := strings.TrimSpace(*mnemonic)
	if words == "" {
		generated, err := wallet.NewMnemonic()
		if err != nil {
			failf("generate mnemonic: %v", err)
		}
		words = generated
	}
	keys, err := wallet.KeysFromMnemonic(words, "")
	if err != nil {
		failf("derive keys: %v", err)
	}

	doc, err := identity.BuildMetadata(context.Background(), keys.Wallet(), keys.Address(), rootList, time.Now().UTC())
	if err != nil {
		failf("build metadata: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		failf("create out dir: %v", err)
	}
	keyfilePath := filepath.Join(*outDir, "offchain.key")
	metadataPath := filepath.Join(*outDir, "metadata.json")
	directoryPath := filepath.Join(*outDir, "directory.yaml")

	if err := wallet.SaveKeyfile(keyfilePath, *passphrase, words, keys); err != nil {
		failf("write keyfile %s: %v", keyfilePath, err)
	}
	writeJSON(metadataPath, doc)
	writeYAML(directoryPath, []config.DirectoryEntry{{
		Address:           keys.Address().Hex(),
		MetadataURL:       docURL,
		DataEncryptionKey: hexutil.Encode(keys.CompressedDEK()),
	}})

	writeStdoutln("Generated local identity:")
	writeStdoutf("  address %s\n", keys.Address().Hex())
	writeStdoutf("  %s\n", keyfilePath)
	writeStdoutf("  %s\n", metadataPath)
	writeStdoutf("  %s\n", directoryPath)
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

func writeJSON(path string, value any) {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		failf("marshal json %s: %v", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		failf("write file %s: %v", path, err)
	}
}

func writeYAML(path string, value any) {
	raw, err := yaml.Marshal(map[string]any{"directory": value})
	if err != nil {
		failf("marshal yaml %s: %v", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		failf("write file %s: %v", path, err)
	}
}

func fail(msg string) {
	if _, err := fmt.Fprintln(os.Stderr, msg); err != nil {
		os.Exit(1)
	}
	os.Exit(1)
}

func failf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format+"\n", args...); err != nil {
		os.Exit(1)
	}
	os.Exit(1)
}

func writeStdoutln(line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(1)
	}
}

func writeStdoutf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(1)
	}
}
