package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"lanshare/pkg/client"
	"lanshare/pkg/discovery"
	"lanshare/pkg/log"
	"lanshare/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

func main() {
	_ = log.Logger

	peer := flag.String("peer", "", "Peer base URL, e.g. http://192.168.1.20:43210")
	password := flag.String("password", "", "Share password, if the peer is protected")
	list := flag.Bool("list", false, "List the peer's shared files and exit")
	discover := flag.Bool("discover", false, "Discover peers on the local network and exit")
	id := flag.Int("id", -1, "Id of the file to download")
	dest := flag.String("dest", "", "Destination path (defaults to the shared name)")
	wait := flag.Duration("wait", 5*time.Second, "How long to listen during discovery")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	if *discover {
		runDiscovery(*wait)
		return
	}

	if *peer == "" {
		log.Fatal().Msg("A peer URL is required; use -peer or find one with -discover")
	}

	ctx := context.Background()
	c := client.New()

	token := ""
	if *password != "" {
		var err error
		token, err = c.Authenticate(ctx, *peer, *password)
		if err != nil {
			log.Fatal().Err(err).Msg("Authentication failed")
		}
	}

	files, err := c.ListFiles(ctx, *peer, token)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list peer files")
	}

	if *list {
		for _, f := range files {
			fmt.Printf("%4d  %-40s %s\n", f.ID, f.Name, humanize.Bytes(uint64(f.Size)))
		}
		return
	}

	if *id < 0 || *id >= len(files) {
		log.Fatal().Int("id", *id).Int("available", len(files)).Msg("Unknown file id; use -list")
	}
	remote := files[*id]

	destination := *dest
	if destination == "" {
		destination = remote.Name
	}

	task := models.DownloadTask{
		ID:       uuid.NewString(),
		FileID:   remote.ID,
		Dest:     destination,
		Size:     remote.Size,
		Filename: remote.Name,
	}

	err = c.Download(ctx, *peer, token, task, func(p models.TransferProgress) {
		log.Info().Str("progress", p.String()).Msg("Downloading")
	})
	if err != nil {
		log.Fatal().Err(err).Str("dest", destination).Msg("Download failed")
	}
	log.Info().Str("dest", destination).Int64("bytes", remote.Size).Msg("Download complete")
}

func runDiscovery(wait time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	peers, err := discovery.Discover(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start discovery")
	}

	log.Info().Dur("wait", wait).Msg("Listening for peers")
	found := 0
	for peer := range peers {
		found++
		fmt.Printf("%-24s http://%s:%d\n", peer.Name, peer.Host, peer.Port)
	}
	if found == 0 {
		log.Info().Msg("No peers found")
	}
}
