// relayctl manages a local session key and sends signed actions to a relay
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ashureev/gasless-relay/internal/chain"
	"github.com/ashureev/gasless-relay/internal/healthrpc"
	"github.com/ashureev/gasless-relay/internal/sessionkey"
	"github.com/ashureev/gasless-relay/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const usage = `usage: relayctl <command> [flags]

commands:
  new-key          create a session key (prunes expired keys)
  mark-registered  record that the active key is registered on-chain
  comment          commit a body, sign it and relay it
  resolve          fetch a committed body by hash
  health           probe the relay's gRPC health endpoint
`

// globalFlags are shared by the key-handling commands.
type globalFlags struct {
	home    string
	verbose bool
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.home, "home", defaultHome(), "directory holding the key database and age identity")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
}

func defaultHome() string {
	if h := os.Getenv("RELAYCTL_HOME"); h != "" {
		return h
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".relayctl"
	}
	return filepath.Join(dir, "relayctl")
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "new-key":
		err = runNewKey(ctx, args)
	case "mark-registered":
		err = runMarkRegistered(ctx, args)
	case "comment":
		err = runComment(ctx, args)
	case "resolve":
		err = runResolve(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		var infra *sessionkey.InfraError
		if errors.As(err, &infra) && infra.Retryable() {
			fmt.Fprintf(os.Stderr, "relayctl: %v (retryable)\n", err)
			os.Exit(75)
		}
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// keyring bundles the sealed session key store and its backing database.
type keyring struct {
	repo  *store.SQLiteStore
	store *sessionkey.SealedStore
}

func openKeyring(home string) (*keyring, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("create home %s: %w", home, err)
	}
	identity, err := sessionkey.LoadOrCreateIdentity(filepath.Join(home, "identity.age"))
	if err != nil {
		return nil, err
	}
	repo, err := store.NewSQLite(filepath.Join(home, "keys.db"))
	if err != nil {
		return nil, err
	}
	return &keyring{
		repo:  repo,
		store: sessionkey.NewSealedStore(repo, sessionkey.NewAgeSealer(identity)),
	}, nil
}

func (k *keyring) Close() {
	if err := k.repo.Close(); err != nil {
		slog.Warn("Failed to close key database", "error", err)
	}
}

// storedNonces serves nonces from the local store when no RPC endpoint is
// available.
type storedNonces struct {
	store sessionkey.Store
}

func (s storedNonces) CurrentNonce(ctx context.Context, sessionKey string) (uint64, error) {
	key, err := s.store.Load(ctx, common.HexToAddress(sessionKey))
	if err != nil {
		return 0, err
	}
	if key == nil {
		return 0, sessionkey.ErrNoSessionKey
	}
	return key.Nonce, nil
}

func runNewKey(ctx context.Context, args []string) error {
	var g globalFlags
	fs := pflag.NewFlagSet("new-key", pflag.ContinueOnError)
	g.register(fs)
	ttl := fs.Duration("ttl", 24*time.Hour, "delete stored keys older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogger(g.verbose)

	kr, err := openKeyring(g.home)
	if err != nil {
		return err
	}
	defer kr.Close()

	if removed, err := kr.store.DeleteExpired(ctx, *ttl); err != nil {
		slog.Warn("Failed to prune expired session keys", "error", err)
	} else if removed > 0 {
		slog.Info("Pruned expired session keys", "count", removed)
	}

	agent := sessionkey.NewAgent(kr.store, storedNonces{store: kr.store}, nil)
	key, err := agent.CreateKey(ctx)
	if err != nil {
		return err
	}
	fmt.Println(key.Address.Hex())
	return nil
}

func runMarkRegistered(ctx context.Context, args []string) error {
	var g globalFlags
	fs := pflag.NewFlagSet("mark-registered", pflag.ContinueOnError)
	g.register(fs)
	address := fs.String("address", "", "session key address (default: newest key)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogger(g.verbose)

	kr, err := openKeyring(g.home)
	if err != nil {
		return err
	}
	defer kr.Close()

	agent := sessionkey.NewAgent(kr.store, storedNonces{store: kr.store}, nil)
	if err := activate(ctx, agent, *address); err != nil {
		return err
	}
	return agent.MarkOnChain(ctx)
}

func activate(ctx context.Context, agent *sessionkey.Agent, address string) error {
	if address == "" {
		_, err := agent.UseLatest(ctx)
		return err
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid session key address %q", address)
	}
	return agent.Use(ctx, common.HexToAddress(address))
}

func runComment(ctx context.Context, args []string) error {
	var g globalFlags
	fs := pflag.NewFlagSet("comment", pflag.ContinueOnError)
	g.register(fs)
	server := fs.String("server", envOr("RELAY_URL", "http://localhost:8080"), "relay server base URL")
	rpcURL := fs.String("rpc", os.Getenv("RPC_URL"), "JSON-RPC endpoint for nonce queries (empty uses the stored nonce)")
	manager := fs.String("manager", os.Getenv("SESSION_KEY_MANAGER_ADDRESS"), "session key manager contract")
	address := fs.String("address", "", "session key address (default: newest key)")
	subject := fs.String("subject", "", "subject id")
	parent := fs.String("parent", "", "parent id (empty for top level)")
	user := fs.String("user", "", "user wallet address")
	body := fs.String("body", "", "comment body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogger(g.verbose)

	if *subject == "" || *user == "" || *body == "" {
		return errors.New("--subject, --user and --body are required")
	}

	kr, err := openKeyring(g.home)
	if err != nil {
		return err
	}
	defer kr.Close()

	var nonces sessionkey.NonceSource = storedNonces{store: kr.store}
	if *rpcURL != "" {
		cfg := chain.EthereumConfig{RPCURL: *rpcURL}
		if common.IsHexAddress(*manager) {
			cfg.SessionKeyManager = common.HexToAddress(*manager)
			cfg.SocialContract = cfg.SessionKeyManager
		}
		eth, err := chain.DialEthereum(ctx, cfg, slog.Default())
		if err != nil {
			return &sessionkey.InfraError{Op: "dial rpc", Err: err}
		}
		defer eth.Close()
		nonces = eth
	} else {
		slog.Warn("No RPC endpoint, signing with the stored nonce")
	}

	agent := sessionkey.NewAgent(kr.store, nonces, nil)
	if err := activate(ctx, agent, *address); err != nil {
		return err
	}
	key, err := agent.Current()
	if err != nil {
		return err
	}
	if !key.IsOnChain {
		slog.Warn("Session key is not marked as registered on-chain", "session_key", key.Address.Hex())
	}

	client := newRelayClient(*server, *user)

	// The body must be resolvable before its hash is signed.
	hash, err := client.commit(ctx, *body)
	if err != nil {
		return fmt.Errorf("commit content: %w", err)
	}

	if _, err := agent.NextNonce(ctx); err != nil {
		return err
	}
	req, err := agent.Sign(ctx, sessionkey.Action{
		SubjectID:   *subject,
		ContentHash: hash,
		ParentID:    *parent,
		UserAddress: *user,
	})
	if err != nil {
		return err
	}

	reply, err := client.relay(ctx, req)
	if err != nil {
		return fmt.Errorf("relay (nonce %d): %w", req.Nonce, err)
	}
	fmt.Printf("%s %s\n", reply.TransactionHash, hash)
	return nil
}

func runResolve(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	server := fs.String("server", envOr("RELAY_URL", "http://localhost:8080"), "relay server base URL")
	hash := fs.String("hash", "", "content hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hash == "" {
		return errors.New("--hash is required")
	}

	body, err := newRelayClient(*server, "").resolve(ctx, *hash)
	if err != nil {
		return err
	}
	fmt.Println(body)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("health", pflag.ContinueOnError)
	addr := fs.String("grpc", envOr("RELAY_GRPC_ADDR", "localhost:9090"), "relay gRPC health address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := healthrpc.NewClient(healthrpc.DefaultClientConfig(*addr), nil)
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Check(ctx, healthrpc.ServiceName)
	if err != nil {
		return err
	}
	fmt.Println(status.String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
