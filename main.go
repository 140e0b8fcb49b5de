package main

import (
	"context"

	"github.com/bolt-mining/withdraw-service/config"
	"github.com/bolt-mining/withdraw-service/handler"
	"github.com/bolt-mining/withdraw-service/model"
	"github.com/bolt-mining/withdraw-service/repository"
	"github.com/bolt-mining/withdraw-service/router"
	"github.com/bolt-mining/withdraw-service/service"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg := config.LoadConfig()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		logrus.Fatalf("migration failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	repo := repository.NewLedgerRepository(db)
	locks := service.NewRedisLockService(rdb)

	var notifier service.Notifier = service.NoopNotifier{}
	if cfg.AdminBotToken != "" && cfg.AdminChatID != 0 {
		n, err := service.NewTelegramNotifier(cfg.AdminBotToken, cfg.AdminChatID)
		if err != nil {
			logrus.Warnf("admin notifier disabled: %v", err)
		} else {
			notifier = n
		}
	}

	// The engine is only built when the chain secrets are present. Without it
	// the service still runs and answers SystemNotConfigured per request
	// instead of debiting balances it can never settle.
	var engine service.ChainTransfer
	if cfg.ChainConfigured() {
		signer, err := service.NewSigner(cfg.HotWalletMnemonic)
		if err != nil {
			logrus.Fatalf("hot wallet signing material is invalid: %v", err)
		}
		toncenter := service.NewToncenterClient(cfg.ToncenterURL, cfg.ToncenterAPIKey)
		tonapi := service.NewTonapiClient(cfg.TonapiURL, cfg.TonapiAPIKey)
		engine, err = service.NewTransferEngine(
			signer,
			cfg.HotWalletAddress,
			cfg.JettonMaster,
			[]service.JettonWalletResolver{toncenter, tonapi},
			toncenter,
			toncenter,
		)
		if err != nil {
			logrus.Fatalf("failed to build transfer engine: %v", err)
		}
	} else {
		logrus.Warn("chain config incomplete, withdrawals will be refused")
	}

	svc := service.NewWithdrawService(repo, engine, locks, notifier, cfg.MinWithdrawal)

	go service.NewReconciler(repo, notifier).Run(context.Background())

	r := router.SetupRouter(handler.NewWithdrawHandler(svc, repo))
	logrus.Infof("withdraw service running on :%s", cfg.AppPort)
	if err := r.Run(":" + cfg.AppPort); err != nil {
		logrus.Fatalf("server stopped: %v", err)
	}
}
