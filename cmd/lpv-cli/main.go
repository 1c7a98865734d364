package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"lpvault/cmd/internal/passphrase"
	"lpvault/crypto"
	"lpvault/native/permit"
)

const passphraseEnv = "LPV_KEYSTORE_PASSPHRASE"

func defaultServer() string {
	if v := strings.TrimSpace(os.Getenv("LPV_ROUTERD_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8090"
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		printUsage(out)
		return nil
	}
	src := passphrase.NewSource(passphraseEnv, "")
	switch args[0] {
	case "generate-key":
		return generateKey(args[1:], src, out)
	case "address":
		return showAddress(args[1:], src, out)
	case "sign-permit":
		return signPermitCmd(args[1:], src, out)
	case "position":
		return positionCmd(args[1:], out)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	}
	printUsage(out)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: lpv-cli <command> [flags]")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  generate-key -out <file>                 create an encrypted keystore")
	fmt.Fprintln(out, "  address -keystore <file>                 print the keystore's account")
	fmt.Fprintln(out, "  sign-permit -keystore <file> -market <id> -domain <borrowA|borrowB|share|lp> [-value <n>|-max] [-ttl 10m]")
	fmt.Fprintln(out, "  position -market <id> -borrower <addr>   show a borrower's position")
	fmt.Fprintf(out, "The keystore passphrase is read from %s or prompted for.\n", passphraseEnv)
}

type secretSource interface {
	Get() (string, error)
}

func loadKey(path string, src secretSource) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("-keystore is required")
	}
	pass, err := src.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func generateKey(args []string, src secretSource, out io.Writer) error {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	path := fs.String("out", "", "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*path) == "" {
		return errors.New("-out is required")
	}
	if _, err := os.Stat(*path); err == nil {
		return fmt.Errorf("refusing to overwrite %s", *path)
	}
	pass, err := src.Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func showAddress(args []string, src secretSource, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	path := fs.String("keystore", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*path, src)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

// permitJSON matches the permit objects accepted by routerd.
type permitJSON struct {
	Owner      string `json:"owner"`
	Spender    string `json:"spender"`
	Value      string `json:"value"`
	ApproveMax bool   `json:"approveMax"`
	Deadline   uint64 `json:"deadline"`
	Signature  string `json:"signature"`
}

type permitOptions struct {
	Market string
	Domain string
	Value  *big.Int
	Max    bool
	TTL    time.Duration
	Now    time.Time
}

func signPermitCmd(args []string, src secretSource, out io.Writer) error {
	fs := flag.NewFlagSet("sign-permit", flag.ContinueOnError)
	path := fs.String("keystore", "", "keystore file of the permit owner")
	server := fs.String("server", defaultServer(), "routerd base URL")
	market := fs.String("market", "", "market id")
	domain := fs.String("domain", "", "permit domain: borrowA, borrowB, share or lp")
	value := fs.String("value", "", "allowance granted by the permit")
	approveMax := fs.Bool("max", false, "grant the maximum allowance")
	ttl := fs.Duration("ttl", 10*time.Minute, "permit lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := permitOptions{Market: *market, Domain: *domain, Max: *approveMax, TTL: *ttl, Now: time.Now()}
	if !opts.Max {
		v, ok := new(big.Int).SetString(strings.TrimSpace(*value), 10)
		if !ok || v.Sign() <= 0 {
			return fmt.Errorf("-value must be a positive integer unless -max is set")
		}
		opts.Value = v
	}
	key, err := loadKey(*path, src)
	if err != nil {
		return err
	}
	signed, err := signPermit(context.Background(), newAPIClient(*server), key, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(signed)
}

// signPermit fetches the owner's current nonce for the domain and signs a
// permit naming the router as spender.
func signPermit(ctx context.Context, client *apiClient, key *crypto.PrivateKey, opts permitOptions) (*permitJSON, error) {
	if strings.TrimSpace(opts.Market) == "" || strings.TrimSpace(opts.Domain) == "" {
		return nil, errors.New("-market and -domain are required")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("-ttl must be positive")
	}
	signer := permit.NewSigner(key)
	info, err := client.permitNonce(ctx, opts.Market, opts.Domain, signer.Address().String())
	if err != nil {
		return nil, err
	}
	contract, err := crypto.DecodeAddress(info.Domain.VerifyingContract)
	if err != nil {
		return nil, fmt.Errorf("domain contract: %w", err)
	}
	spender, err := crypto.DecodeAddress(info.Spender)
	if err != nil {
		return nil, fmt.Errorf("spender: %w", err)
	}
	domain := permit.Domain{Name: info.Domain.Name, ChainID: info.Domain.ChainID, VerifyingContract: contract}
	p := permit.Permit{
		Spender:    spender,
		Value:      opts.Value,
		ApproveMax: opts.Max,
		Deadline:   uint64(opts.Now.Add(opts.TTL).Unix()),
	}
	signed, err := signer.Sign(permit.Kind(info.Kind), domain, p, info.Nonce)
	if err != nil {
		return nil, err
	}
	value := ""
	if signed.Value != nil {
		value = signed.Value.String()
	}
	return &permitJSON{
		Owner:      signed.Owner.String(),
		Spender:    signed.Spender.String(),
		Value:      value,
		ApproveMax: signed.ApproveMax,
		Deadline:   signed.Deadline,
		Signature:  hexutil.Encode(signed.Signature),
	}, nil
}

func positionCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("position", flag.ContinueOnError)
	server := fs.String("server", defaultServer(), "routerd base URL")
	market := fs.String("market", "", "market id")
	borrower := fs.String("borrower", "", "borrower address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := crypto.DecodeAddress(*borrower); err != nil {
		return fmt.Errorf("-borrower: %w", err)
	}
	pos, err := newAPIClient(*server).position(context.Background(), *market, *borrower)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(pos)
}
