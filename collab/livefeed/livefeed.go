// Package livefeed is a reference collaborator: a WebRTC data-channel
// bridge that republishes fused track snapshots to a browser viewer,
// grounded on Valkyrie/internal/livefeed's clearance-gated WebSocket
// streamer (the connection-registry and broadcast-with-backpressure
// shape) and internal/api/webrtc's SFU (the peer-connection/RTP-relay
// shape), recombined around pion/webrtc's DataChannel API instead of
// raw WebSocket frames. It is a demonstration outside the core engines'
// contract: nothing here participates in admission, filtering, spatial
// indexing, or fusion.
package livefeed

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/asgard/aegis/internal/platform/bus"
)

// ErrViewerNotFound is returned when an operation names an unregistered
// viewer connection.
var ErrViewerNotFound = errors.New("livefeed: viewer not found")

// Bridge manages WebRTC peer connections to browser viewers and fans
// out snapshot batches over each viewer's data channel.
type Bridge struct {
	mu      sync.RWMutex
	api     *webrtc.API
	config  webrtc.Configuration
	viewers map[string]*viewer
}

type viewer struct {
	pc   *webrtc.PeerConnection
	data *webrtc.DataChannel
}

// NewBridge constructs a Bridge using the given ICE server configuration.
func NewBridge(config webrtc.Configuration) *Bridge {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		log.Printf("[livefeed] register H264: %v", err)
	}

	return &Bridge{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		config:  config,
		viewers: make(map[string]*viewer),
	}
}

// Connect creates a peer connection for viewerID from a browser-supplied
// SDP offer and returns the corresponding answer.
func (b *Bridge) Connect(viewerID string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := b.api.NewPeerConnection(b.config)
	if err != nil {
		return nil, err
	}

	v := &viewer{pc: pc}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == "snapshots" {
			b.mu.Lock()
			v.data = dc
			b.mu.Unlock()
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			b.Disconnect(viewerID)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.viewers[viewerID] = v
	b.mu.Unlock()

	return &answer, nil
}

// Disconnect tears down viewerID's peer connection, if any.
func (b *Bridge) Disconnect(viewerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.viewers[viewerID]; ok {
		v.pc.Close()
		delete(b.viewers, viewerID)
	}
}

// Broadcast sends a snapshot batch to every viewer with an open data
// channel, skipping viewers whose data channel is absent or not yet open.
func (b *Bridge) Broadcast(snaps []bus.SnapshotMessage) {
	payload, err := json.Marshal(snaps)
	if err != nil {
		log.Printf("[livefeed] marshal snapshots: %v", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, v := range b.viewers {
		if v.data == nil || v.data.ReadyState() != webrtc.DataChannelStateOpen {
			continue
		}
		if err := v.data.Send(payload); err != nil {
			log.Printf("[livefeed] send to %s: %v", id, err)
		}
	}
}

// RelayVideoTrack forwards raw RTP packets read from track to every
// viewer as a local video track, for collaborators that also want to
// show an agent's camera feed alongside its fused position.
func (b *Bridge) RelayVideoTrack(track *webrtc.TrackRemote) {
	local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
	if err != nil {
		log.Printf("[livefeed] create local track: %v", err)
		return
	}

	b.mu.RLock()
	for id, v := range b.viewers {
		if _, err := v.pc.AddTrack(local); err != nil {
			log.Printf("[livefeed] add track to %s: %v", id, err)
		}
	}
	b.mu.RUnlock()

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if err := local.WriteRTP(packet); err != nil {
			return
		}
	}
}

// ViewerCount reports how many viewers currently have an open peer
// connection.
func (b *Bridge) ViewerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}
