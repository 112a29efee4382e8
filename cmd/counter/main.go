package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/solana-counter/pkg/counter/client"
	"github.com/code-payments/solana-counter/pkg/funding"
	"github.com/code-payments/solana-counter/pkg/keys"
	"github.com/code-payments/solana-counter/pkg/solana"
	"github.com/code-payments/solana-counter/pkg/solana/cliconfig"
)

var (
	configPath         = flag.String("config", cliconfig.DefaultConfigPath(), "solana cli configuration file path")
	programKeypairPath = flag.String("program-keypair", "./target/deploy/program-keypair.json", "program keypair file path")
	programPath        = flag.String("program-path", "./target/deploy/program.so", "built program artifact path")
	seed               = flag.String("seed", client.DefaultSeed, "seed used to derive the counter account address")
	logLevel           = flag.String("log-level", "info", "log level")
)

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return e.stage + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}

func stage(name string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: name, err: err}
}

func main() {
	flag.Parse()
	configureLogger(*logLevel)

	log := logrus.StandardLogger().WithFields(logrus.Fields{
		"type":   "cmd/counter",
		"run_id": uuid.New().String(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log); err != nil {
		entry := log.WithError(err)

		var se *stageError
		if errors.As(err, &se) {
			entry = entry.WithField("stage", se.stage)
		}
		entry.Error("counter run failed")

		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logrus.Entry) error {
	config, err := cliconfig.Load(*configPath)
	if err != nil {
		return stage("config", err)
	}

	payer, generated, err := keys.LoadOrGenerate(config.KeypairPath)
	if err != nil {
		return stage("config", errors.Wrap(err, "failed to load payer keypair"))
	}
	if generated {
		log.WithField("path", config.KeypairPath).Info("generated new payer keypair")
	}

	programKeypair, err := keys.Load(*programKeypairPath)
	if err != nil {
		return stage("config", errors.Wrapf(client.ErrConfigurationMissing, "failed to read program keypair (the program may need to be deployed): %v", err))
	}
	program := programKeypair.Public().(ed25519.PublicKey)

	rpc := solana.New(config.JSONRPCURL)
	c, err := client.New(
		rpc,
		payer,
		program,
		client.Config{
			Seed:        *seed,
			ProgramPath: *programPath,
			Commitment:  config.CommitmentLevel(),
		},
		funding.WithEnvConfigs(),
	)
	if err != nil {
		return stage("config", err)
	}

	return execute(ctx, log.WithField("endpoint", config.JSONRPCURL), c, program)
}

// execute runs the counter stages in order against an initialized client.
func execute(ctx context.Context, log *logrus.Entry, c *client.Client, program ed25519.PublicKey) error {
	log = log.WithFields(logrus.Fields{
		"payer":   base58.Encode(c.Payer()),
		"program": base58.Encode(program),
		"counter": base58.Encode(c.CounterAddress()),
	})

	version, err := c.Connect(ctx)
	if err != nil {
		return stage("connect", err)
	}
	log.WithField("version", version.SolanaCore).Info("connection to cluster established")

	created, err := c.SetupCounterAccount(ctx)
	if err != nil {
		return stage("setup", err)
	}
	balance, err := c.PayerBalance(ctx)
	if err != nil {
		return stage("setup", err)
	}
	log.WithFields(logrus.Fields{
		"created":  created,
		"lamports": balance,
	}).Info("counter account ready")

	if err := c.CheckProgram(ctx); err != nil {
		return stage("check", err)
	}
	log.Info("program verified")

	sig, err := c.Increment(ctx)
	if err != nil {
		return stage("increment", err)
	}
	log.WithField("signature", base58.Encode(sig[:])).Info("counter incremented")

	count, err := c.GetCount(ctx)
	if err != nil {
		return stage("read", err)
	}
	log.WithField("count", count).Info("counter read back")

	return nil
}

func configureLogger(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", level).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(parsed)
	}

	logrus.SetOutput(os.Stderr)
}
