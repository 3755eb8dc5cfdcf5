package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
)

const linkReplay = "replay"

// ReplayConfig configures a capture replay.
type ReplayConfig struct {
	// Port selects UDP datagrams by destination port. Zero replays every
	// UDP datagram.
	Port uint16
	// Speed scales capture timing: 1 is real time, 0 replays as fast as
	// possible.
	Speed    float64
	Registry *registry.Registry
	Metrics  *monitoring.Metrics
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets   int
	Frames    int
	Skipped   int
	Malformed int
	Failed    int
}

// ReplayFile replays the pcap or pcapng capture at path into h.
func ReplayFile(ctx context.Context, path string, cfg ReplayConfig, h Handler) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return Replay(ctx, f, cfg, h)
}

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Replay feeds every bridge frame found in a capture's UDP payloads to h,
// as the UDP session would have.
func Replay(ctx context.Context, r io.Reader, cfg ReplayConfig, h Handler) (ReplayStats, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("read capture header: %w", err)
	}

	var src gopacket.PacketDataSource
	var link layers.LinkType
	if bytes.Equal(head, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return ReplayStats{}, fmt.Errorf("open pcapng: %w", err)
		}
		src, link = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return ReplayStats{}, fmt.Errorf("open pcap: %w", err)
		}
		src, link = pr, pr.LinkType()
	}

	packets := gopacket.NewPacketSource(src, link)
	packets.NoCopy = true

	var (
		stats     ReplayStats
		firstCap  time.Time
		startWall = time.Now()
	)
	for {
		pkt, err := packets.NextPacket()
		if err == io.EOF {
			monitoring.Logf("replay complete: %d packets, %d frames in %v",
				stats.Packets, stats.Frames, time.Since(startWall).Round(time.Millisecond))
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Packets++

		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 || (cfg.Port != 0 && uint16(udp.DstPort) != cfg.Port) {
			stats.Skipped++
			continue
		}

		if cfg.Speed > 0 {
			at := pkt.Metadata().Timestamp
			if firstCap.IsZero() {
				firstCap = at
			}
			due := startWall.Add(time.Duration(float64(at.Sub(firstCap)) / cfg.Speed))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return stats, ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		cfg.Metrics.Frame(linkReplay, "rx", len(udp.Payload))
		f, err := ParseFrame(udp.Payload)
		if err != nil {
			stats.Malformed++
			cfg.Metrics.FrameDropped(linkReplay, "malformed")
			continue
		}
		stats.Frames++
		if err := deliver(linkReplay, f, cfg.Registry, h, cfg.Metrics); err != nil {
			stats.Failed++
			monitoring.Logf("replay: packet %d: %v", stats.Packets, err)
		}
	}
}

// CaptureWriter writes bridge frames as Ethernet/IPv4/UDP packets to a
// pcap stream, for recording synthetic traffic and building test captures.
type CaptureWriter struct {
	w       *pcapgo.Writer
	src     [4]byte
	dst     [4]byte
	srcPort uint16
	dstPort uint16
	ipID    uint16
}

// NewCaptureWriter writes a pcap header to w and returns a writer for
// datagrams from src to dst.
func NewCaptureWriter(w io.Writer, src, dst [4]byte, srcPort, dstPort uint16) (*CaptureWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(MaxFrameSize+64, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &CaptureWriter{w: pw, src: src, dst: dst, srcPort: srcPort, dstPort: dstPort}, nil
}

// WriteFrame appends one frame captured at ts.
func (c *CaptureWriter) WriteFrame(ts time.Time, f Frame) error {
	payload, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	c.ipID++
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       []byte{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       c.ipID,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    c.src[:],
		DstIP:    c.dst[:],
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(c.srcPort), DstPort: layers.UDPPort(c.dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return err
	}
	data := buf.Bytes()
	return c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}
