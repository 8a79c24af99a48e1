// Package gateway implements the store-and-forward relay between a local
// mesh radio and a satellite uplink.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/models"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/relay"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/storage"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/lorawan"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshxt"
)

// Config configures a Gateway. MaxUplinkSize is the largest frame the
// network accepts at DataRate; zero leaves only the relay frame limit.
type Config struct {
	Name                string
	QueueCapacity       int
	TTL                 TTLTable
	Pass                PassConfig
	MaxRetries          int
	FPort               uint8
	DataRate            lorawan.DataRate
	MaxUplinkSize       int
	JoinAttempts        int
	JoinRetryDelay      time.Duration
	TickInterval        time.Duration
	MaintenanceInterval time.Duration
	StatusInterval      time.Duration

	Clock func() time.Time
	Sleep func(time.Duration)
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "satgw"
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.TTL == nil {
		c.TTL = DefaultTTLs()
	}
	if c.Pass.Interval == 0 {
		c.Pass = DefaultPassConfig()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.FPort == 0 {
		c.FPort = 42
	}
	if c.DataRate.SpreadFactor == 0 {
		c.DataRate = lorawan.DataRate{SpreadFactor: 9, Bandwidth: 125}
	}
	if c.JoinAttempts <= 0 {
		c.JoinAttempts = 5
	}
	if c.JoinRetryDelay == 0 {
		c.JoinRetryDelay = 10 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
}

// Gateway owns the queue, pass window and both transceivers. All state
// except the published Status is touched only from the loop goroutine.
type Gateway struct {
	cfg        Config
	mesh       radio.MeshTransceiver
	network    radio.NetworkTransceiver
	translator *relay.Translator
	store      storage.Store
	instanceID uuid.UUID

	queue  *Queue
	pass   *PassWindow
	inject chan *meshtastic.Packet

	started         bool
	lastMaintenance time.Time
	lastStatus      time.Time
	lastRSSI        int16
	lastSNR         float32
	stats           Stats

	statusMu sync.RWMutex
	status   Status
}

// New creates a gateway. store may be nil to disable persistence.
func New(cfg Config, mesh radio.MeshTransceiver, network radio.NetworkTransceiver, translator *relay.Translator, store storage.Store) *Gateway {
	cfg.setDefaults()
	now := cfg.Clock()

	g := &Gateway{
		cfg:             cfg,
		mesh:            mesh,
		network:         network,
		translator:      translator,
		store:           store,
		instanceID:      uuid.New(),
		queue:           NewQueue(cfg.QueueCapacity),
		pass:            NewPassWindow(now, cfg.Pass),
		inject:          make(chan *meshtastic.Packet, 16),
		lastMaintenance: now,
		lastStatus:      now,
	}
	g.publishStatus(now)
	return g
}

// Start brings up both transceivers, joins the network and restores the
// persisted queue. Join retries block the caller.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.mesh.Begin(); err != nil {
		return fmt.Errorf("begin mesh transceiver: %w: %w", ErrTransceiverFault, err)
	}
	if err := g.network.Begin(); err != nil {
		return fmt.Errorf("begin network transceiver: %w: %w", ErrTransceiverFault, err)
	}

	if err := g.joinWithRetry(ctx); err != nil {
		log.Warn().
			Err(err).
			Msg("Not joined at startup, will retry during satellite passes")
	}

	g.restoreQueue(ctx)

	now := g.cfg.Clock()
	g.pass = NewPassWindow(now, g.cfg.Pass)
	g.lastMaintenance = now
	g.lastStatus = now
	g.started = true
	g.publishStatus(now)

	log.Info().
		Str("gateway", g.cfg.Name).
		Str("instanceId", g.instanceID.String()).
		Time("nextPass", g.pass.Next()).
		Int("queued", g.queue.Len()).
		Msg("Gateway started")
	return nil
}

func (g *Gateway) joinWithRetry(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= g.cfg.JoinAttempts; attempt++ {
		if err = g.join(ctx); err == nil {
			return nil
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", g.cfg.JoinAttempts).
			Msg("Network join failed")

		if attempt < g.cfg.JoinAttempts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.cfg.Sleep(g.cfg.JoinRetryDelay)
		}
	}
	return err
}

func (g *Gateway) join(ctx context.Context) error {
	g.stats.JoinAttempts++
	if err := g.network.Join(); err != nil {
		g.stats.JoinFailures++
		return fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}

	log.Info().Str("gateway", g.cfg.Name).Msg("Joined satellite network")
	g.recordEvent(ctx, &models.EventLog{
		Type:        models.EventTypeJoin,
		Level:       models.EventLevelInfo,
		Description: "Joined satellite network",
	})
	return nil
}

// Run ticks until ctx is cancelled, then persists the queue
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			g.persistQueue(shutdownCtx)
			cancel()
			log.Info().Int("queued", g.queue.Len()).Msg("Gateway stopped")
			return ctx.Err()
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Tick runs one pass of the control loop
func (g *Gateway) Tick(ctx context.Context) {
	now := g.cfg.Clock()

	g.drainInjected(ctx)

	if g.mesh.Available() {
		g.receiveMesh(ctx)
	}

	if g.pass.Open(now) {
		g.stats.Passes++
		log.Info().
			Time("predicted", g.pass.Next()).
			Int("queued", g.queue.Len()).
			Msg("Satellite pass window open")
		g.recordEvent(ctx, &models.EventLog{
			Type:  models.EventTypePassStart,
			Level: models.EventLevelInfo,
			Details: models.Variables{
				"queued": g.queue.Len(),
			},
		})
	}

	if g.pass.Active() {
		g.transmitNext(ctx)

		if g.pass.Close(g.cfg.Clock()) {
			log.Info().
				Time("nextPass", g.pass.Next()).
				Int("queued", g.queue.Len()).
				Msg("Satellite pass window closed")
			g.recordEvent(ctx, &models.EventLog{
				Type:  models.EventTypePassEnd,
				Level: models.EventLevelInfo,
				Details: models.Variables{
					"queued":   g.queue.Len(),
					"nextPass": g.pass.Next().UTC().Format(time.RFC3339),
				},
			})
		}
	}

	g.handleDownlink(ctx)

	if now.Sub(g.lastMaintenance) >= g.cfg.MaintenanceInterval {
		g.maintain(ctx, now)
	}

	if now.Sub(g.lastStatus) >= g.cfg.StatusInterval {
		g.logStatus(now)
	}

	g.publishStatus(now)
}

// Inject hands a locally originated packet to the loop. It never blocks.
func (g *Gateway) Inject(p *meshtastic.Packet) error {
	select {
	case g.inject <- p:
		return nil
	default:
		return ErrInjectBusy
	}
}

func (g *Gateway) drainInjected(ctx context.Context) {
	for {
		select {
		case p := <-g.inject:
			g.stats.Injected++
			g.relayPacket(ctx, p)
		default:
			return
		}
	}
}

func (g *Gateway) receiveMesh(ctx context.Context) {
	p, err := g.mesh.Receive()
	if err != nil {
		g.stats.ReceiveErrors++
		log.Warn().Err(err).Msg("Failed to receive mesh packet")
		return
	}
	if p == nil {
		return
	}

	g.stats.Received++
	g.lastRSSI, g.lastSNR = p.RSSI, p.SNR

	log.Debug().
		Str("source", p.Source.String()).
		Str("port", p.Port.String()).
		Int("size", len(p.Payload)).
		Int16("rssi", p.RSSI).
		Float32("snr", p.SNR).
		Msg("Mesh packet received")

	if p.Port != meshtastic.PortTextMessage && p.Port != meshtastic.PortPrivateApp {
		g.stats.Ignored++
		return
	}

	g.relayPacket(ctx, p)
}

func (g *Gateway) relayPacket(ctx context.Context, p *meshtastic.Packet) {
	pkt, err := g.translator.ToRelay(p)
	if err != nil {
		g.stats.TranslationErrors++
		log.Warn().
			Err(err).
			Str("source", p.Source.String()).
			Int("size", len(p.Payload)).
			Msg("Dropping untranslatable mesh packet")
		g.recordEvent(ctx, &models.EventLog{
			Type:        models.EventTypeTranslation,
			Level:       models.EventLevelWarning,
			Description: err.Error(),
			Details:     models.Variables{"source": p.Source.String()},
		})
		return
	}

	if err := g.Enqueue(ctx, pkt); err != nil {
		log.Warn().
			Err(err).
			Str("source", p.Source.String()).
			Msg("Dropping mesh packet")
	}
}

// Enqueue serializes p and appends it to the queue
func (g *Gateway) Enqueue(ctx context.Context, p *relay.Packet) error {
	if g.queue.Full() {
		g.stats.QueueFull++
		g.recordEvent(ctx, &models.EventLog{
			Type:    models.EventTypeQueueFull,
			Level:   models.EventLevelWarning,
			Details: models.Variables{"capacity": g.queue.Cap(), "priority": p.Priority.String()},
		})
		return ErrQueueFull
	}

	frame, err := relay.Serialize(p)
	if err != nil {
		g.stats.TranslationErrors++
		return fmt.Errorf("serialize relay packet: %w", err)
	}
	if g.cfg.MaxUplinkSize > 0 && len(frame) > g.cfg.MaxUplinkSize {
		g.stats.TranslationErrors++
		err := fmt.Errorf("frame %d bytes exceeds uplink limit %d: %w", len(frame), g.cfg.MaxUplinkSize, meshxt.ErrTranslation)
		g.recordEvent(ctx, &models.EventLog{
			Type:        models.EventTypeTranslation,
			Level:       models.EventLevelWarning,
			Description: err.Error(),
			Details:     models.Variables{"source": p.SourceID.String(), "size": len(frame)},
		})
		return err
	}

	e := Entry{
		ID:         uint32(p.SourceID) ^ p.Timestamp,
		Priority:   p.Priority,
		EnqueuedAt: g.cfg.Clock(),
		TTL:        g.cfg.TTL.For(p.Priority),
		Payload:    frame,
	}
	if err := g.queue.Push(e); err != nil {
		return err
	}
	g.stats.Queued++

	id := e.ID
	g.recordEvent(ctx, &models.EventLog{
		EntryID: &id,
		Type:    models.EventTypeQueued,
		Level:   models.EventLevelDebug,
		Details: models.Variables{"priority": e.Priority.String(), "size": len(frame)},
	})

	log.Info().
		Uint32("id", e.ID).
		Str("priority", e.Priority.String()).
		Int("size", len(frame)).
		Int("queued", g.queue.Len()).
		Msg("Message queued")
	return nil
}

func (g *Gateway) transmitNext(ctx context.Context) {
	next, ok := g.queue.PeekHighestPriority()
	if !ok {
		return
	}

	// A join attempt uses this tick's transmit slot whatever the outcome
	if !g.network.IsJoined() {
		if err := g.join(ctx); err != nil {
			log.Warn().Err(err).Msg("Skipping transmission")
		}
		return
	}

	airtime := lorawan.EstimateAirtime(len(next.Payload), g.cfg.DataRate)
	if !g.network.CanTransmit(airtime) {
		g.stats.DutyCycleDeferred++
		log.Debug().
			Uint32("airtimeMs", airtime).
			Uint32("remainingMs", g.network.AirtimeRemaining()).
			Msg("Duty cycle budget exhausted, deferring")
		return
	}

	entry, _ := g.queue.DequeueHighestPriority()
	if err := g.network.Send(entry.Payload, g.cfg.FPort); err != nil {
		g.handleSendFailure(ctx, entry, err)
		return
	}

	g.stats.Delivered++
	log.Info().
		Uint32("id", entry.ID).
		Str("priority", entry.Priority.String()).
		Uint32("airtimeMs", airtime).
		Int("queued", g.queue.Len()).
		Msg("Message sent via satellite")

	id := entry.ID
	g.recordEvent(ctx, &models.EventLog{
		EntryID: &id,
		Type:    models.EventTypeDelivered,
		Level:   models.EventLevelInfo,
		Details: models.Variables{
			"priority":  entry.Priority.String(),
			"size":      len(entry.Payload),
			"airtimeMs": airtime,
			"retries":   entry.Retries,
		},
	})
}

func (g *Gateway) handleSendFailure(ctx context.Context, entry Entry, sendErr error) {
	id := entry.ID

	// An oversize frame fails the same way on every attempt
	if !errors.Is(sendErr, radio.ErrPayloadTooLarge) && int(entry.Retries) < g.cfg.MaxRetries {
		entry.Retries++
		if err := g.queue.Push(entry); err == nil {
			g.stats.Retried++
			log.Warn().
				Err(sendErr).
				Uint32("id", entry.ID).
				Uint8("retries", entry.Retries).
				Msg("Send failed, requeued")
			g.recordEvent(ctx, &models.EventLog{
				EntryID:     &id,
				Type:        models.EventTypeRetry,
				Level:       models.EventLevelWarning,
				Description: sendErr.Error(),
				Details:     models.Variables{"retries": entry.Retries},
			})
			return
		}
	}

	g.stats.DeliveryFailed++
	err := fmt.Errorf("entry %d after %d retries: %w: %w", entry.ID, entry.Retries, ErrDeliveryFailed, sendErr)
	log.Error().
		Err(err).
		Str("priority", entry.Priority.String()).
		Msg("Message dropped")
	g.recordEvent(ctx, &models.EventLog{
		EntryID:     &id,
		Type:        models.EventTypeDeliveryFailed,
		Level:       models.EventLevelError,
		Description: err.Error(),
		Details:     models.Variables{"priority": entry.Priority.String(), "retries": entry.Retries},
	})
}

func (g *Gateway) handleDownlink(ctx context.Context) {
	dl, ok := g.network.PendingDownlink()
	if !ok {
		return
	}
	g.stats.Downlinks++

	if err := g.forwardDownlink(dl); err != nil {
		g.stats.DownlinkErrors++
		log.Warn().
			Err(err).
			Uint8("fPort", dl.Port).
			Int("size", len(dl.Payload)).
			Msg("Failed to forward downlink")
		return
	}

	g.recordEvent(ctx, &models.EventLog{
		Type:    models.EventTypeDownlink,
		Level:   models.EventLevelInfo,
		Details: models.Variables{"fPort": dl.Port, "size": len(dl.Payload)},
	})
}

func (g *Gateway) forwardDownlink(dl *radio.Downlink) error {
	pkt, err := relay.Deserialize(dl.Payload)
	if err != nil {
		return fmt.Errorf("deserialize downlink: %w", err)
	}

	frame, err := g.translator.ToMesh(pkt).MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode mesh packet: %w", err)
	}

	if err := g.mesh.Transmit(frame); err != nil {
		return fmt.Errorf("transmit to mesh: %w", err)
	}

	log.Info().
		Str("source", pkt.SourceID.String()).
		Str("dest", pkt.DestID.String()).
		Int("size", len(pkt.Payload)).
		Msg("Downlink forwarded to mesh")
	return nil
}

func (g *Gateway) maintain(ctx context.Context, now time.Time) {
	g.lastMaintenance = now

	for _, e := range g.queue.PurgeExpired(now) {
		g.stats.Expired++
		log.Warn().
			Uint32("id", e.ID).
			Str("priority", e.Priority.String()).
			Dur("age", now.Sub(e.EnqueuedAt)).
			Msg("Message expired")

		id := e.ID
		g.recordEvent(ctx, &models.EventLog{
			EntryID: &id,
			Type:    models.EventTypeExpired,
			Level:   models.EventLevelWarning,
			Details: models.Variables{"priority": e.Priority.String(), "ttlSeconds": int64(e.TTL / time.Second)},
		})
	}

	g.persistQueue(ctx)
}

func (g *Gateway) logStatus(now time.Time) {
	g.lastStatus = now

	log.Info().
		Str("gateway", g.cfg.Name).
		Int("queued", g.queue.Len()).
		Bool("joined", g.network.IsJoined()).
		Uint32("airtimeUsedMs", g.network.AirtimeUsed()).
		Uint32("airtimeRemainingMs", g.network.AirtimeRemaining()).
		Str("pass", g.pass.State().String()).
		Dur("nextPassIn", g.pass.UntilNext(now)).
		Uint64("delivered", g.stats.Delivered).
		Uint64("dropped", g.stats.DeliveryFailed+g.stats.Expired).
		Msg("Gateway status")
}

func (g *Gateway) persistQueue(ctx context.Context) {
	if g.store == nil {
		return
	}

	entries := g.queue.Entries()
	messages := make([]models.QueuedMessage, len(entries))
	for i, e := range entries {
		messages[i] = models.QueuedMessage{
			Gateway:    g.cfg.Name,
			Position:   i,
			EntryID:    e.ID,
			Priority:   uint8(e.Priority),
			EnqueuedAt: e.EnqueuedAt,
			TTL:        e.TTL,
			Retries:    e.Retries,
			Payload:    e.Payload,
		}
	}

	if err := g.store.SaveQueue(ctx, g.cfg.Name, messages); err != nil {
		log.Error().Err(err).Msg("Failed to persist queue")
	}
}

func (g *Gateway) restoreQueue(ctx context.Context) {
	if g.store == nil {
		return
	}

	messages, err := g.store.LoadQueue(ctx, g.cfg.Name)
	if err != nil {
		log.Error().Err(err).Msg("Failed to restore queue")
		return
	}

	restored := 0
	for _, m := range messages {
		err := g.queue.Push(Entry{
			ID:         m.EntryID,
			Priority:   relay.Priority(m.Priority),
			EnqueuedAt: m.EnqueuedAt,
			TTL:        m.TTL,
			Retries:    m.Retries,
			Payload:    m.Payload,
		})
		if errors.Is(err, ErrQueueFull) {
			log.Warn().
				Int("discarded", len(messages)-restored).
				Msg("Queue snapshot larger than capacity")
			break
		}
		restored++
	}

	if restored > 0 {
		log.Info().Int("restored", restored).Msg("Queue restored from snapshot")
	}
}

func (g *Gateway) recordEvent(ctx context.Context, event *models.EventLog) {
	if g.store == nil {
		return
	}

	event.Gateway = g.cfg.Name
	if event.CreatedAt.IsZero() {
		event.CreatedAt = g.cfg.Clock()
	}
	if event.Code == "" {
		event.Code = string(event.Type)
	}

	if err := g.store.CreateEventLog(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("type", string(event.Type)).
			Msg("Failed to log event")
	}
}
