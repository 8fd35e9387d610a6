// Package room implements the think-tank domain: room lifecycle, membership,
// channels, threaded messages, critiques, decisions with alternatives,
// amendments and debates, vote tallying, shared files, and sandboxed code
// execution handoff. Each room is a single unit of contention; every
// operation runs validate → persist → update memory → enqueue fan-out under
// the room's exclusive lock.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// Config tunes the engine.
type Config struct {
	CodeExecEnabled bool
	SandboxEndpoint string
	// RingSize bounds the per-room in-memory message history.
	RingSize int
}

// DefaultRingSize is the per-room recent-message window.
const DefaultRingSize = 1000

// Engine owns every room. Room state is recovered from the store at startup
// and kept consistent by committing to persistence before memory.
type Engine struct {
	cfg      Config
	stores   *store.Stores
	notifier Notifier
	metrics  *metrics.Metrics
	sandbox  *sandboxClient

	mu    sync.Mutex
	rooms map[string]*roomState

	timersMu sync.Mutex
	timers   map[string]*time.Timer // exec_id → timeout timer

	wg sync.WaitGroup
}

// roomState is the in-memory image of one room. All fields are guarded by mu;
// the engine map lock is never held while a room lock is held.
type roomState struct {
	mu       sync.Mutex
	data     store.RoomData
	members  map[string]*store.MemberData
	channels map[string]*store.ChannelData
	recent   []store.RoomMessageData
	known    map[string]bool // every room message id seen, for reply_to checks
	eventSeq int64
	ringMax  int
	lane     *lane
}

// New creates the engine. Call Start to recover persisted rooms.
func New(cfg Config, stores *store.Stores, notifier Notifier, m *metrics.Metrics) *Engine {
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	e := &Engine{
		cfg:      cfg,
		stores:   stores,
		notifier: notifier,
		metrics:  m,
		rooms:    make(map[string]*roomState),
		timers:   make(map[string]*time.Timer),
	}
	if cfg.SandboxEndpoint != "" {
		e.sandbox = newSandboxClient(cfg.SandboxEndpoint)
	}
	return e
}

// Start loads rooms, members, channels, and recent messages from the store,
// and fails any code execution that was in flight when the broker stopped.
func (e *Engine) Start(ctx context.Context) error {
	rooms, err := e.stores.Rooms.ListRooms(ctx)
	if err != nil {
		return err
	}
	for i := range rooms {
		r := &roomState{
			data:     rooms[i],
			members:  make(map[string]*store.MemberData),
			channels: make(map[string]*store.ChannelData),
			known:    make(map[string]bool),
			ringMax:  e.cfg.RingSize,
		}
		members, err := e.stores.Rooms.ListMembers(ctx, r.data.RoomID)
		if err != nil {
			return err
		}
		for j := range members {
			r.members[members[j].ClientID] = &members[j]
		}
		channels, err := e.stores.Rooms.ListChannels(ctx, r.data.RoomID)
		if err != nil {
			return err
		}
		for j := range channels {
			r.channels[channels[j].ChannelID] = &channels[j]
		}
		msgs, err := e.stores.Rooms.RecentRoomMessages(ctx, r.data.RoomID, e.cfg.RingSize)
		if err != nil {
			return err
		}
		r.recent = msgs
		for j := range msgs {
			r.known[msgs[j].ID] = true
		}
		r.lane = e.newLane(r.data.RoomID)
		e.rooms[r.data.RoomID] = r
	}

	n, err := e.stores.Rooms.FailRunningExecs(ctx, "broker restarted during execution")
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("failed in-flight code executions on startup", "count", n)
	}
	slog.Info("room engine recovered", "rooms", len(e.rooms))
	return nil
}

// Stop flushes fan-out lanes and cancels execution timeout timers.
func (e *Engine) Stop() {
	e.timersMu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = map[string]*time.Timer{}
	e.timersMu.Unlock()
	e.closeLanes()
}

func (e *Engine) room(roomID string) (*roomState, *Error) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	e.mu.Unlock()
	if !ok {
		return nil, notFound("room %q does not exist", roomID)
	}
	return r, nil
}

// --- Lifecycle ---

// CreateRoomParams are the arguments of the create_room action.
type CreateRoomParams struct {
	RoomID   string            `json:"room_id"`
	Topic    string            `json:"topic,omitempty"`
	Password string            `json:"password,omitempty"`
	Config   *store.RoomConfig `json:"config,omitempty"`
}

// RoomView is the wire shape of a room.
type RoomView struct {
	RoomID         string    `json:"room_id"`
	Topic          string    `json:"topic"`
	State          string    `json:"state"`
	Protected      bool      `json:"protected"`
	TotalFileBytes int64     `json:"total_file_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}

func roomView(d *store.RoomData) *RoomView {
	return &RoomView{
		RoomID:         d.RoomID,
		Topic:          d.Topic,
		State:          d.State,
		Protected:      d.PasswordHash != "",
		TotalFileBytes: d.TotalFileBytes,
		CreatedAt:      d.CreatedAt,
	}
}

// CreateRoom creates a room with its implicit main channel. Calling it again
// with the same room_id and a matching password is idempotent; a mismatched
// password is a conflict.
func (e *Engine) CreateRoom(ctx context.Context, from string, p CreateRoomParams) (*RoomView, error) {
	if err := protocol.ValidateIdent("room_id", p.RoomID); err != nil {
		return nil, invalid("%v", err)
	}

	e.mu.Lock()
	if r, ok := e.rooms[p.RoomID]; ok {
		e.mu.Unlock()
		r.mu.Lock()
		defer r.mu.Unlock()
		if !passwordMatches(r.data.PasswordHash, p.Password) {
			return nil, conflict("room %q already exists with a different password", p.RoomID)
		}
		return roomView(&r.data), nil
	}
	e.mu.Unlock()

	now := time.Now().UTC()
	cfg := store.DefaultRoomConfig()
	if p.Config != nil {
		cfg = *p.Config
	}
	data := store.RoomData{
		RoomID:    p.RoomID,
		Topic:     p.Topic,
		State:     store.RoomActive,
		Config:    cfg,
		CreatedAt: now,
	}
	if p.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, internal(err)
		}
		data.PasswordHash = string(hash)
	}
	main := store.ChannelData{
		RoomID:    p.RoomID,
		ChannelID: "main",
		Name:      "main",
		Topic:     p.Topic,
		CreatedBy: from,
		CreatedAt: now,
	}
	if err := e.stores.Rooms.CreateRoom(ctx, &data, &main); err != nil {
		return nil, internal(err)
	}

	r := &roomState{
		data:     data,
		members:  make(map[string]*store.MemberData),
		channels: map[string]*store.ChannelData{"main": &main},
		known:    make(map[string]bool),
		ringMax:  e.cfg.RingSize,
	}
	r.lane = e.newLane(p.RoomID)

	e.mu.Lock()
	if existing, ok := e.rooms[p.RoomID]; ok {
		// Lost a create race; the first writer wins and persistence already
		// rejected our duplicate row, so this path only guards memory.
		e.mu.Unlock()
		close(r.lane.done)
		return roomView(&existing.data), nil
	}
	e.rooms[p.RoomID] = r
	e.mu.Unlock()

	r.mu.Lock()
	r.emit(protocol.EventRoomCreated, roomView(&r.data))
	r.mu.Unlock()

	slog.Info("room created", "room_id", p.RoomID, "by", from, "protected", data.PasswordHash != "")
	return roomView(&data), nil
}

// CloseRoom transitions the room to closed. Reads stay valid; writes are
// rejected from then on.
func (e *Engine) CloseRoom(ctx context.Context, from, roomID string) (*RoomView, error) {
	r, rerr := e.room(roomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data.State == store.RoomClosed {
		return roomView(&r.data), nil
	}
	if m, ok := r.members[from]; !ok || !m.Active {
		return nil, forbidden("client %q is not an active member of room %q", from, roomID)
	}
	if err := e.stores.Rooms.UpdateRoomState(ctx, roomID, store.RoomClosed); err != nil {
		return nil, internal(err)
	}
	r.data.State = store.RoomClosed
	r.emit(protocol.EventRoomClosed, map[string]string{"room_id": roomID, "closed_by": from})
	slog.Info("room closed", "room_id", roomID, "by", from)
	return roomView(&r.data), nil
}

// --- Membership ---

// JoinParams are the arguments of the join action.
type JoinParams struct {
	RoomID     string   `json:"room_id"`
	Role       string   `json:"role,omitempty"`
	VoteWeight *float64 `json:"vote_weight,omitempty"`
	Password   string   `json:"password,omitempty"`
}

// MemberView is the wire shape of a membership.
type MemberView struct {
	RoomID     string    `json:"room_id"`
	ClientID   string    `json:"client_id"`
	Role       string    `json:"role"`
	VoteWeight float64   `json:"vote_weight"`
	JoinedAt   time.Time `json:"joined_at"`
	Active     bool      `json:"active"`
}

func memberView(m *store.MemberData) MemberView {
	return MemberView{
		RoomID:     m.RoomID,
		ClientID:   m.ClientID,
		Role:       m.Role,
		VoteWeight: m.VoteWeight,
		JoinedAt:   m.JoinedAt,
		Active:     m.Active,
	}
}

// Join adds the client to the room. Duplicate joins are idempotent and
// overwrite role and weight.
func (e *Engine) Join(ctx context.Context, from string, p JoinParams) (*MemberView, error) {
	role := p.Role
	if role == "" {
		role = protocol.RoleMember
	}
	if !protocol.ValidRole(role) {
		return nil, invalid("unknown role %q", role)
	}
	weight := protocol.DefaultVoteWeight(role)
	if p.VoteWeight != nil {
		if *p.VoteWeight <= 0 {
			return nil, invalid("vote_weight must be positive")
		}
		weight = *p.VoteWeight
	}

	r, rerr := e.room(p.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data.State == store.RoomClosed {
		return nil, conflict("room %q is closed", p.RoomID)
	}
	if !passwordMatches(r.data.PasswordHash, p.Password) {
		return nil, forbidden("wrong password for room %q", p.RoomID)
	}

	m := &store.MemberData{
		RoomID:     p.RoomID,
		ClientID:   from,
		Role:       role,
		VoteWeight: weight,
		JoinedAt:   time.Now().UTC(),
		Active:     true,
	}
	if prev, ok := r.members[from]; ok {
		m.JoinedAt = prev.JoinedAt
	}
	if err := e.stores.Rooms.UpsertMember(ctx, m); err != nil {
		return nil, internal(err)
	}
	r.members[from] = m
	r.emit(protocol.EventMemberJoined, memberView(m))
	slog.Info("member joined", "room_id", p.RoomID, "client_id", from, "role", role)
	v := memberView(m)
	return &v, nil
}

// Leave marks the member inactive; history is preserved.
func (e *Engine) Leave(ctx context.Context, from, roomID string) error {
	r, rerr := e.room(roomID)
	if rerr != nil {
		return rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[from]
	if !ok || !m.Active {
		return notFound("client %q is not a member of room %q", from, roomID)
	}
	if err := e.stores.Rooms.SetMemberActive(ctx, roomID, from, false); err != nil {
		return internal(err)
	}
	m.Active = false
	r.emit(protocol.EventMemberLeft, map[string]string{"room_id": roomID, "client_id": from})
	slog.Info("member left", "room_id", roomID, "client_id", from)
	return nil
}

// --- Channels ---

// CreateChannelParams are the arguments of the create_channel action.
type CreateChannelParams struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Topic  string `json:"topic,omitempty"`
}

// ChannelView is the wire shape of a channel.
type ChannelView struct {
	RoomID    string    `json:"room_id"`
	ChannelID string    `json:"channel_id"`
	Name      string    `json:"name"`
	Topic     string    `json:"topic"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func channelView(c *store.ChannelData) ChannelView {
	return ChannelView{
		RoomID:    c.RoomID,
		ChannelID: c.ChannelID,
		Name:      c.Name,
		Topic:     c.Topic,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
	}
}

// CreateChannel adds a channel; the name doubles as the channel id and must
// be unique within the room.
func (e *Engine) CreateChannel(ctx context.Context, from string, p CreateChannelParams) (*ChannelView, error) {
	if err := protocol.ValidateIdent("name", p.Name); err != nil {
		return nil, invalid("%v", err)
	}
	r, rerr := e.room(p.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data.State == store.RoomClosed {
		return nil, conflict("room %q is closed", p.RoomID)
	}
	if m, ok := r.members[from]; !ok || !m.Active {
		return nil, forbidden("client %q is not an active member of room %q", from, p.RoomID)
	}
	if _, exists := r.channels[p.Name]; exists {
		return nil, conflict("channel %q already exists in room %q", p.Name, p.RoomID)
	}

	c := &store.ChannelData{
		RoomID:    p.RoomID,
		ChannelID: p.Name,
		Name:      p.Name,
		Topic:     p.Topic,
		CreatedBy: from,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.stores.Rooms.SaveChannel(ctx, c); err != nil {
		return nil, internal(err)
	}
	r.channels[p.Name] = c
	r.emit(protocol.EventChannelCreated, channelView(c))
	v := channelView(c)
	return &v, nil
}

// --- Messaging ---

// PostMessageParams are the arguments of the post_message action.
type PostMessageParams struct {
	RoomID    string `json:"room_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// MessageView is the wire shape of a room message.
type MessageView struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	ChannelID string    `json:"channel_id"`
	From      string    `json:"from_client"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func messageView(m *store.RoomMessageData) MessageView {
	return MessageView{
		ID:        m.ID,
		RoomID:    m.RoomID,
		ChannelID: m.ChannelID,
		From:      m.From,
		Kind:      m.Kind,
		Text:      m.Text,
		ReplyTo:   m.ReplyTo,
		CreatedAt: m.CreatedAt,
	}
}

// PostMessage appends a message to a channel and fans it out to members.
func (e *Engine) PostMessage(ctx context.Context, from string, p PostMessageParams) (*MessageView, error) {
	if err := protocol.ValidateText(p.Text); err != nil {
		return nil, invalid("%v", err)
	}
	r, rerr := e.room(p.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.post(ctx, e, from, p.ChannelID, protocol.RoomMsgMessage, p.Text, p.ReplyTo, nil, "")
	if err != nil {
		return nil, err
	}
	v := messageView(msg)
	return &v, nil
}

// post validates, persists, and fans out one room message. Caller holds the
// room lock. A non-empty id pins the message id (decision announcements reuse
// the decision id so critiques can target them).
func (r *roomState) post(ctx context.Context, e *Engine, from, channelID, kind, text, replyTo string, meta []byte, id string) (*store.RoomMessageData, *Error) {
	if r.data.State == store.RoomClosed {
		return nil, conflict("room %q is closed", r.data.RoomID)
	}
	if m, ok := r.members[from]; from != "" && (!ok || !m.Active) {
		return nil, forbidden("client %q is not an active member of room %q", from, r.data.RoomID)
	}
	if _, ok := r.channels[channelID]; !ok {
		return nil, notFound("channel %q does not exist in room %q", channelID, r.data.RoomID)
	}
	if replyTo != "" && !e.messageInRoom(ctx, r, replyTo) {
		return nil, notFound("reply_to %q does not reference a message in room %q", replyTo, r.data.RoomID)
	}

	if id == "" {
		id = store.NewID()
	}
	msg := &store.RoomMessageData{
		ID:        id,
		RoomID:    r.data.RoomID,
		ChannelID: channelID,
		From:      from,
		Kind:      kind,
		Text:      text,
		ReplyTo:   replyTo,
		CreatedAt: time.Now().UTC(),
		Meta:      meta,
	}
	if err := e.stores.Rooms.SaveRoomMessage(ctx, msg); err != nil {
		return nil, internal(err)
	}
	r.append(msg)
	r.emit(protocol.EventRoomMessage, messageView(msg))
	return msg, nil
}

func (r *roomState) append(m *store.RoomMessageData) {
	r.recent = append(r.recent, *m)
	if len(r.recent) > r.ringMax {
		r.recent = r.recent[len(r.recent)-r.ringMax:]
	}
	r.known[m.ID] = true
}

// --- Critiques ---

// CritiqueParams are the arguments of the critique action.
type CritiqueParams struct {
	RoomID          string `json:"room_id"`
	TargetMessageID string `json:"target_message_id"`
	Text            string `json:"text"`
	Severity        string `json:"severity"`
}

// CritiqueView is the wire shape of a critique.
type CritiqueView struct {
	ID              string    `json:"id"`
	TargetMessageID string    `json:"target_message_id"`
	From            string    `json:"from_client"`
	Text            string    `json:"text"`
	Severity        string    `json:"severity"`
	CreatedAt       time.Time `json:"created_at"`
}

func critiqueView(c *store.CritiqueData) CritiqueView {
	return CritiqueView{
		ID:              c.ID,
		TargetMessageID: c.TargetMessageID,
		From:            c.From,
		Text:            c.Text,
		Severity:        c.Severity,
		CreatedAt:       c.CreatedAt,
	}
}

// Critique attaches a severity-tagged comment to any message in the room.
// The critique is also recorded as a room message of kind critique so it
// shows up in channel history. Severity never blocks anything by itself.
func (e *Engine) Critique(ctx context.Context, from string, p CritiqueParams) (*CritiqueView, error) {
	if !protocol.ValidSeverity(p.Severity) {
		return nil, invalid("unknown severity %q", p.Severity)
	}
	if err := protocol.ValidateText(p.Text); err != nil {
		return nil, invalid("%v", err)
	}
	r, rerr := e.room(p.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !e.messageInRoom(ctx, r, p.TargetMessageID) {
		return nil, notFound("target message %q not found in room %q", p.TargetMessageID, p.RoomID)
	}
	channelID := "main"
	if target := r.find(p.TargetMessageID); target != nil {
		channelID = target.ChannelID
	} else if m, err := e.stores.Rooms.GetRoomMessage(ctx, p.TargetMessageID); err == nil {
		channelID = m.ChannelID
	}

	c := &store.CritiqueData{
		ID:              store.NewID(),
		TargetMessageID: p.TargetMessageID,
		From:            from,
		Text:            p.Text,
		Severity:        p.Severity,
		CreatedAt:       time.Now().UTC(),
	}
	// Persist the critique row first, then its history entry; both are
	// idempotent to replay on crash.
	if err := e.stores.Rooms.SaveCritique(ctx, c); err != nil {
		return nil, internal(err)
	}
	meta := metaJSON(map[string]string{"critique_id": c.ID, "severity": p.Severity, "target": p.TargetMessageID})
	if _, err := r.post(ctx, e, from, channelID, protocol.RoomMsgCritique, p.Text, p.TargetMessageID, meta, ""); err != nil {
		return nil, err
	}
	r.emit(protocol.EventCritiquePosted, critiqueView(c))
	v := critiqueView(c)
	return &v, nil
}

// messageInRoom checks the recent window first and falls back to the store
// for messages that have aged out of the ring.
func (e *Engine) messageInRoom(ctx context.Context, r *roomState, messageID string) bool {
	if r.known[messageID] {
		return true
	}
	m, err := e.stores.Rooms.GetRoomMessage(ctx, messageID)
	return err == nil && m.RoomID == r.data.RoomID
}

func (r *roomState) find(messageID string) *store.RoomMessageData {
	for i := len(r.recent) - 1; i >= 0; i-- {
		if r.recent[i].ID == messageID {
			return &r.recent[i]
		}
	}
	return nil
}

// --- Summary ---

// SummaryView is the per-room inspection shape.
type SummaryView struct {
	Room          *RoomView      `json:"room"`
	Members       []MemberView   `json:"members"`
	Channels      []ChannelView  `json:"channels"`
	MessageCount  int            `json:"message_count"`
	OpenDecisions []DecisionView `json:"open_decisions"`
	Files         []FileView     `json:"files"`

	// Deliberation totals across every decision in the room, closed ones
	// included.
	AmendmentCount int `json:"amendment_count"`
	ArgumentCount  int `json:"argument_count"`
	VoteCount      int `json:"vote_count"`
}

// Summary reports the room's membership, channels, and open decisions.
func (e *Engine) Summary(ctx context.Context, roomID string) (*SummaryView, error) {
	r, rerr := e.room(roomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	view := roomView(&r.data)
	members := make([]MemberView, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, memberView(m))
	}
	channels := make([]ChannelView, 0, len(r.channels))
	for _, c := range r.channels {
		channels = append(channels, channelView(c))
	}
	msgCount := len(r.recent)
	r.mu.Unlock()

	decisions, err := e.stores.Rooms.ListDecisions(ctx, roomID)
	if err != nil {
		return nil, internal(err)
	}
	var open []DecisionView
	for i := range decisions {
		if decisions[i].Status != protocol.DecisionOpen {
			continue
		}
		dv, derr := e.decisionView(ctx, &decisions[i])
		if derr != nil {
			return nil, derr
		}
		open = append(open, *dv)
	}

	files, err := e.stores.Rooms.ListFiles(ctx, roomID)
	if err != nil {
		return nil, internal(err)
	}
	fviews := make([]FileView, 0, len(files))
	for i := range files {
		fviews = append(fviews, fileView(&files[i]))
	}

	amendments, err := e.stores.Rooms.ListRoomAmendments(ctx, roomID)
	if err != nil {
		return nil, internal(err)
	}
	arguments, err := e.stores.Rooms.ListRoomDebateArguments(ctx, roomID)
	if err != nil {
		return nil, internal(err)
	}
	votes, err := e.stores.Rooms.ListRoomVotes(ctx, roomID)
	if err != nil {
		return nil, internal(err)
	}

	return &SummaryView{
		Room:           view,
		Members:        members,
		Channels:       channels,
		MessageCount:   msgCount,
		OpenDecisions:  open,
		Files:          fviews,
		AmendmentCount: len(amendments),
		ArgumentCount:  len(arguments),
		VoteCount:      len(votes),
	}, nil
}

// Rooms lists every room, for the admin surface.
func (e *Engine) Rooms() []RoomView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RoomView, 0, len(e.rooms))
	for _, r := range e.rooms {
		r.mu.Lock()
		out = append(out, *roomView(&r.data))
		r.mu.Unlock()
	}
	return out
}

// passwordMatches compares a candidate against the stored bcrypt hash.
// An unprotected room accepts any candidate.
func passwordMatches(hash, candidate string) bool {
	if hash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

func metaJSON(kv map[string]string) []byte {
	b, _ := json.Marshal(kv)
	return b
}

// AsError extracts the wire code from an engine error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return opErr(protocol.ErrInternal, "%v", err)
}
