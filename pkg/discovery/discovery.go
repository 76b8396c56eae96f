// Package discovery announces transfer servers on the local network and
// finds peers, over UDP multicast with small JSON packets.
package discovery

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"lanshare/pkg/log"
	"lanshare/pkg/models"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
)

const (
	multicastGroup = "239.77.84.68"
	multicastPort  = 42424

	announceInterval = 2 * time.Second
	maxPacketSize    = 1024
)

type announcement struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Port int    `json:"port"`
}

func groupAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(multicastGroup), Port: multicastPort}
}

// Broadcast announces name and port to the multicast group every
// announceInterval until ctx is cancelled.
func Broadcast(ctx context.Context, name string, port int) error {
	conn, err := net.DialUDP("udp4", nil, groupAddr())
	if err != nil {
		return err
	}
	defer conn.Close()

	payload, err := json.Marshal(announcement{
		ID:   uuid.NewString(),
		Name: name,
		Port: port,
	})
	if err != nil {
		return err
	}

	log.Info().Str("name", name).Int("port", port).Msg("Broadcasting presence")

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		if _, err := conn.Write(payload); err != nil {
			log.Warn().Err(err).Msg("Announce packet failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Discover listens on the multicast group and emits each peer once. The
// channel closes when ctx is cancelled.
func Discover(ctx context.Context) (<-chan models.PeerRecord, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: multicastPort})
	if err != nil {
		return nil, err
	}
	if err := joinGroup(conn); err != nil {
		conn.Close()
		return nil, err
	}

	out := make(chan models.PeerRecord)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)

		seen := make(map[string]bool)
		buf := make([]byte, maxPacketSize)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return // listener closed
			}

			var ann announcement
			if err := json.Unmarshal(buf[:n], &ann); err != nil {
				log.Debug().Err(err).Str("src", src.String()).Msg("Ignoring malformed announce packet")
				continue
			}
			if seen[ann.ID] {
				continue
			}
			seen[ann.ID] = true

			record := models.PeerRecord{
				ID:   ann.ID,
				Name: ann.Name,
				Host: src.IP.String(),
				Port: ann.Port,
				Seen: time.Now(),
			}
			select {
			case out <- record:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// joinGroup joins the multicast group on every usable interface so peers
// are heard regardless of routing.
func joinGroup(conn *net.UDPConn) error {
	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(multicastGroup)}

	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}

	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		// Fall back to the system default interface.
		return pc.JoinGroup(nil, group)
	}
	return nil
}
