package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ecowallet/relay-backend/internal/auth"
	"github.com/ecowallet/relay-backend/internal/bundler"
	"github.com/ecowallet/relay-backend/internal/chain"
	"github.com/ecowallet/relay-backend/internal/claim"
	cfgpkg "github.com/ecowallet/relay-backend/internal/config"
	"github.com/ecowallet/relay-backend/internal/escrow"
	"github.com/ecowallet/relay-backend/internal/fee"
	"github.com/ecowallet/relay-backend/internal/paymaster"
	"github.com/ecowallet/relay-backend/internal/server"
	"github.com/ecowallet/relay-backend/internal/store"
	"github.com/ecowallet/relay-backend/internal/token"
	"github.com/ecowallet/relay-backend/internal/transfer"
	"github.com/ecowallet/relay-backend/internal/userop"
)

func main() {
	cfg := cfgpkg.Load()

	db := store.OpenSQLite(cfg.Database)
	store.AutoMigrate(db)
	store.EnsureAdmin(db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
	repo := store.NewRepository(db)

	registry, err := token.NewRegistry(cfg.Chain.EcoTokenAddress, cfg.Chain.USDCTokenAddress)
	if err != nil {
		log.Fatalf("token registry: %v", err)
	}

	ethClient, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Fatalf("connect chain rpc: %v", err)
	}
	chainID, err := ethClient.ChainID(context.Background())
	if err != nil {
		log.Fatalf("get chain id: %v", err)
	}
	if cfg.Chain.ChainID != 0 && chainID.Uint64() != cfg.Chain.ChainID {
		log.Fatalf("rpc chain id %d does not match configured %d", chainID.Uint64(), cfg.Chain.ChainID)
	}

	chainReader := chain.NewReader(ethClient, log.New(log.Writer(), "chain: ", log.LstdFlags))

	ownerSigner, err := userop.NewEOASigner(cfg.Chain.OwnerPrivateKey)
	if err != nil {
		log.Fatalf("load owner key: %v", err)
	}

	entryPoint := common.HexToAddress(cfg.Chain.EntryPoint)
	paymasterAddr := common.HexToAddress(cfg.Paymaster.Address)
	escrowAddr := common.HexToAddress(cfg.Escrow.ContractAddress)

	var pmSource paymaster.SignatureSource
	if cfg.Paymaster.SignerPrivateKey != "" {
		pmSource, err = paymaster.NewLocalSigner(cfg.Paymaster.SignerPrivateKey)
		if err != nil {
			log.Fatalf("load paymaster key: %v", err)
		}
	} else if cfg.Paymaster.SignerURL != "" {
		pmSource = paymaster.NewRemoteSigner(cfg.Paymaster.SignerURL)
	} else {
		log.Fatal("no paymaster signer configured")
	}
	sponsor := paymaster.NewMiddleware(paymasterAddr, chainID, cfg.Paymaster.Validity, pmSource, log.New(log.Writer(), "pm: ", log.LstdFlags))

	bundlerClient, err := bundler.Dial(context.Background(), cfg.Chain.BundlerURL, entryPoint, log.New(log.Writer(), "bundler: ", log.LstdFlags))
	if err != nil {
		log.Fatalf("connect bundler: %v", err)
	}

	ecoInfo, err := registry.ByID(token.ECO)
	if err != nil {
		log.Fatalf("eco token: %v", err)
	}
	flatFee := token.WholeTokens(cfg.Fee.FlatFeeTokens, ecoInfo.Decimals)
	var oracle fee.PriceOracle = fee.NewCoinGeckoOracle(cfg.Fee.OracleBaseURL)
	if cfg.Fee.OracleFallbackURL != "" {
		oracle = fee.NewFallbackOracle(oracle, fee.NewCoinGeckoOracle(cfg.Fee.OracleFallbackURL))
	}
	estimator := fee.NewEstimator(registry, flatFee, oracle)
	feeTokens := []token.ID{token.ECO}
	if registry.Supports(token.USDC) {
		feeTokens = append(feeTokens, token.USDC)
	}
	poller := fee.NewPoller(estimator, feeTokens, cfg.Fee.PollInterval, log.New(log.Writer(), "fees: ", log.LstdFlags))

	builder := userop.NewBuilder(userop.BuilderConfig{
		EntryPoint:       entryPoint,
		Factory:          common.HexToAddress(cfg.Chain.SimpleAccountFactory),
		Paymaster:        paymasterAddr,
		Escrow:           escrowAddr,
		FeeRecipient:     common.HexToAddress(cfg.Fee.FeeRecipient),
		AllowanceReserve: cfg.Paymaster.AllowanceReserve,
	}, chainReader)

	codec, err := escrow.NewCodec(cfg.Escrow.LinkBaseURL, chainID.Uint64(), cfg.Escrow.ContractVersion)
	if err != nil {
		log.Fatalf("escrow link codec: %v", err)
	}
	depositReader := escrow.NewReader(ethClient, escrowAddr)
	claimClient := escrow.NewClaimClient(cfg.Escrow.ClaimURL)

	eventHub := server.NewEventHub(log.New(log.Writer(), "events: ", log.LstdFlags))

	svc := transfer.NewService(
		transfer.Config{
			EntryPoint: entryPoint,
			Factory:    common.HexToAddress(cfg.Chain.SimpleAccountFactory),
			Escrow:     escrowAddr,
			ChainID:    chainID,
		},
		registry,
		chainReader,
		builder,
		sponsor,
		bundlerClient,
		ownerSigner,
		poller,
		codec,
		repo,
		eventHub,
		log.New(log.Writer(), "transfer: ", log.LstdFlags),
	)

	claimLogger := log.New(log.Writer(), "claim: ", log.LstdFlags)
	claimFactory := func(params escrow.LinkParams) *claim.Orchestrator {
		return claim.NewOrchestrator(registry, depositReader, claimClient, chainReader, params, claimLogger)
	}

	authSvc := auth.NewService(cfg.Auth, repo)
	authH := server.NewAuthHandler(authSvc)
	walletH := server.NewWalletHandler(registry, svc, repo, codec, claimFactory, log.New(log.Writer(), "api: ", log.LstdFlags))

	r := server.NewRouter(authSvc, authH, walletH, eventHub)
	srv := server.NewHTTP(cfg.Server, r)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go eventHub.Run(ctx)
	go poller.Run(ctx)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal(err)
		}
	}()
	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Stop(shutdown)
}
