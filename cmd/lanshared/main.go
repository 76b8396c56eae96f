package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"lanshare/pkg/discovery"
	"lanshare/pkg/log"
	"lanshare/pkg/models"
	"lanshare/pkg/server"
)

func main() {
	// Initialize logger first
	_ = log.Logger

	hostname, _ := os.Hostname()
	name := flag.String("name", hostname, "Name announced to peers")
	password := flag.String("password", "", "Password protecting the share (empty for open access)")
	announce := flag.Bool("announce", true, "Announce this share on the local network")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	paths := flag.Args()
	if len(paths) == 0 {
		log.Fatal().Msg("No files to share; pass file paths as arguments")
	}

	files := make([]*models.SharedFile, 0, len(paths))
	for _, path := range paths {
		file, err := models.NewSharedFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Cannot share file")
		}
		files = append(files, file)
	}

	srv, err := server.New(files, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transfer server")
	}

	srv.OnComplete(func(fileIndex int, viaBrowser bool) {
		if fileIndex < 0 {
			log.Info().Bool("browser", viaBrowser).Msg("Bundle delivered")
			return
		}
		log.Info().
			Str("name", files[fileIndex].Name).
			Bool("browser", viaBrowser).
			Msg("File delivered")
	})
	srv.OnProgress(func(p models.TransferProgress) {
		log.Debug().Str("progress", p.String()).Msg("Transfer progress")
	})

	info, err := srv.Start()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start transfer server")
	}
	log.Info().Str("url", info.URL()).Int("files", len(files)).Msg("Sharing")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *announce {
		go func() {
			if err := discovery.Broadcast(ctx, *name, info.Port); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Discovery broadcast stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("Share closed")
}
