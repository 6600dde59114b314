package main

import (
	"context"

	"github.com/vocabnest/vocabnest/config"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/routes"
	"github.com/vocabnest/vocabnest/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync() //nolint:errcheck

	db := config.InitDatabase(&models.User{}, &models.WorkPointsRecord{}, &models.WorkPointsCredit{}, &models.VocabEntry{}, &models.StudyText{})

	r := routes.SetupRouter(db)

	closeStores := func(context.Context) {
		utils.CloseRedis()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(context.Background(), ":"+cfg.AppPort, r, closeStores); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
