package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// ProposeDecisionParams are the arguments of the propose_decision action.
type ProposeDecisionParams struct {
	RoomID        string `json:"room_id"`
	ChannelID     string `json:"channel_id"`
	Text          string `json:"text"`
	VoteType      string `json:"vote_type"`
	RequiredVotes int    `json:"required_votes,omitempty"`
}

// ProposeAlternativeParams are the arguments of the propose_alternative
// action. VoteType overrides the parent's rule when set.
type ProposeAlternativeParams struct {
	DecisionID    string `json:"decision_id"`
	Text          string `json:"text"`
	VoteType      string `json:"vote_type,omitempty"`
	RequiredVotes int    `json:"required_votes,omitempty"`
}

// ProposeAmendmentParams are the arguments of the propose_amendment action.
type ProposeAmendmentParams struct {
	DecisionID string `json:"decision_id"`
	Text       string `json:"text"`
}

// AcceptAmendmentParams are the arguments of the accept_amendment action.
// Supersede closes the decision as superseded instead of rewriting its text.
type AcceptAmendmentParams struct {
	DecisionID  string `json:"decision_id"`
	AmendmentID string `json:"amendment_id"`
	Supersede   bool   `json:"supersede,omitempty"`
}

// AddArgumentParams are the arguments of the add_argument action.
type AddArgumentParams struct {
	DecisionID string   `json:"decision_id"`
	Position   string   `json:"position"`
	Text       string   `json:"text"`
	Evidence   []string `json:"evidence,omitempty"`
}

// VoteParams are the arguments of the vote action.
type VoteParams struct {
	DecisionID string `json:"decision_id"`
	Approve    bool   `json:"approve"`
	Veto       bool   `json:"veto,omitempty"`
}

// AmendmentView is the wire shape of an amendment.
type AmendmentView struct {
	ID         string     `json:"id"`
	DecisionID string     `json:"decision_id"`
	ProposedBy string     `json:"proposed_by"`
	Text       string     `json:"text"`
	Accepted   bool       `json:"accepted"`
	CreatedAt  time.Time  `json:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// ArgumentView is the wire shape of a debate argument.
type ArgumentView struct {
	ID        string    `json:"id"`
	From      string    `json:"from_client"`
	Position  string    `json:"position"`
	Text      string    `json:"text"`
	Evidence  []string  `json:"evidence,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VoteView is the wire shape of a recorded vote.
type VoteView struct {
	Voter     string    `json:"voter"`
	Approve   bool      `json:"approve"`
	Veto      bool      `json:"veto,omitempty"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// DecisionView is the derived state of a decision: effective text, linked
// alternatives, amendment and debate history, votes, and any blocking
// critiques attached to the decision or its amendments and alternatives.
type DecisionView struct {
	ID                string          `json:"id"`
	RoomID            string          `json:"room_id"`
	ChannelID         string          `json:"channel_id"`
	ProposedBy        string          `json:"proposed_by"`
	Text              string          `json:"text"`
	VoteType          string          `json:"vote_type"`
	RequiredVotes     int             `json:"required_votes,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	Alternatives      []string        `json:"alternatives,omitempty"`
	Amendments        []AmendmentView `json:"amendments,omitempty"`
	ProArguments      []ArgumentView  `json:"pro_arguments,omitempty"`
	ConArguments      []ArgumentView  `json:"con_arguments,omitempty"`
	Votes             []VoteView      `json:"votes,omitempty"`
	BlockingCritiques []CritiqueView  `json:"blocking_critiques,omitempty"`
}

// ProposeDecision creates an open decision and announces it in the channel.
// The announcement message reuses the decision id so critiques can target the
// decision's text directly.
func (e *Engine) ProposeDecision(ctx context.Context, from string, p ProposeDecisionParams) (*DecisionView, error) {
	if !protocol.ValidVoteType(p.VoteType) {
		return nil, invalid("unknown vote_type %q", p.VoteType)
	}
	if p.VoteType == protocol.VoteQuorum && p.RequiredVotes <= 0 {
		return nil, invalid("quorum decisions need required_votes > 0")
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
	return e.createDecision(ctx, r, from, p, "")
}

// createDecision persists a decision plus its announcement. Caller holds the
// room lock. parentID is set for alternatives.
func (e *Engine) createDecision(ctx context.Context, r *roomState, from string, p ProposeDecisionParams, parentID string) (*DecisionView, error) {
	if r.data.State == store.RoomClosed {
		return nil, conflict("room %q is closed", p.RoomID)
	}
	if m, ok := r.members[from]; !ok || !m.Active {
		return nil, forbidden("client %q is not an active member of room %q", from, p.RoomID)
	}
	if _, ok := r.channels[p.ChannelID]; !ok {
		return nil, notFound("channel %q does not exist in room %q", p.ChannelID, p.RoomID)
	}
	d := &store.DecisionData{
		ID:            store.NewID(),
		RoomID:        p.RoomID,
		ChannelID:     p.ChannelID,
		ProposedBy:    from,
		Text:          p.Text,
		VoteType:      p.VoteType,
		RequiredVotes: p.RequiredVotes,
		Status:        protocol.DecisionOpen,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.stores.Rooms.SaveDecision(ctx, d); err != nil {
		return nil, internal(err)
	}
	meta := map[string]string{"decision_id": d.ID, "vote_type": d.VoteType}
	if parentID != "" {
		meta["parent_decision_id"] = parentID
	}
	if _, perr := r.post(ctx, e, from, p.ChannelID, protocol.RoomMsgSystem, p.Text, "", metaJSON(meta), d.ID); perr != nil {
		return nil, perr
	}
	view := baseDecisionView(d)
	r.emit(protocol.EventDecisionProposed, view)
	slog.Info("decision proposed", "decision_id", d.ID, "room_id", d.RoomID, "vote_type", d.VoteType, "by", from)
	return view, nil
}

func baseDecisionView(d *store.DecisionData) *DecisionView {
	return &DecisionView{
		ID:            d.ID,
		RoomID:        d.RoomID,
		ChannelID:     d.ChannelID,
		ProposedBy:    d.ProposedBy,
		Text:          d.Text,
		VoteType:      d.VoteType,
		RequiredVotes: d.RequiredVotes,
		Status:        d.Status,
		CreatedAt:     d.CreatedAt,
		ClosedAt:      d.ClosedAt,
	}
}

// ProposeAlternative creates a child decision linked to the parent. The child
// inherits the parent's vote rule unless overridden, and may not already be
// an ancestor of the parent (the alternative graph is a forest).
func (e *Engine) ProposeAlternative(ctx context.Context, from string, p ProposeAlternativeParams) (*DecisionView, error) {
	if err := protocol.ValidateText(p.Text); err != nil {
		return nil, invalid("%v", err)
	}
	parent, err := e.stores.Rooms.GetDecision(ctx, p.DecisionID)
	if err == store.ErrNotFound {
		return nil, notFound("decision %q does not exist", p.DecisionID)
	}
	if err != nil {
		return nil, internal(err)
	}
	r, rerr := e.room(parent.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	voteType := parent.VoteType
	required := parent.RequiredVotes
	if p.VoteType != "" {
		if !protocol.ValidVoteType(p.VoteType) {
			return nil, invalid("unknown vote_type %q", p.VoteType)
		}
		voteType = p.VoteType
		required = p.RequiredVotes
	}

	child, cerr := e.createDecision(ctx, r, from, ProposeDecisionParams{
		RoomID:        parent.RoomID,
		ChannelID:     parent.ChannelID,
		Text:          p.Text,
		VoteType:      voteType,
		RequiredVotes: required,
	}, parent.ID)
	if cerr != nil {
		return nil, cerr
	}

	if aerr := e.linkAlternative(ctx, parent, child.ID); aerr != nil {
		return nil, aerr
	}
	r.emit(protocol.EventAlternativeProposed, map[string]string{
		"decision_id":    parent.ID,
		"alternative_id": child.ID,
	})
	return child, nil
}

// linkAlternative appends the child under the parent after an acyclicity
// check over the room's link set.
func (e *Engine) linkAlternative(ctx context.Context, parent *store.DecisionData, childID string) error {
	links, err := e.stores.Rooms.ListRoomAlternativeLinks(ctx, parent.RoomID)
	if err != nil {
		return internal(err)
	}
	parentOf := make(map[string]string, len(links))
	ordinal := 0
	for _, l := range links {
		parentOf[l.AlternativeID] = l.DecisionID
		if l.DecisionID == parent.ID && l.Ordinal >= ordinal {
			ordinal = l.Ordinal
		}
	}
	for cur := parent.ID; cur != ""; cur = parentOf[cur] {
		if cur == childID {
			return conflict("decision %q is an ancestor of %q", childID, parent.ID)
		}
	}
	if err := e.stores.Rooms.LinkAlternative(ctx, parent.ID, childID, ordinal+1); err != nil {
		return internal(err)
	}
	return nil
}

// ProposeAmendment records a text replacement proposal for an open decision.
func (e *Engine) ProposeAmendment(ctx context.Context, from string, p ProposeAmendmentParams) (*AmendmentView, error) {
	if err := protocol.ValidateText(p.Text); err != nil {
		return nil, invalid("%v", err)
	}
	d, r, derr := e.lockDecision(ctx, p.DecisionID)
	if derr != nil {
		return nil, derr
	}
	defer r.mu.Unlock()

	if protocol.DecisionClosed(d.Status) {
		return nil, conflict("decision %q is %s", d.ID, d.Status)
	}
	a := &store.AmendmentData{
		ID:         store.NewID(),
		DecisionID: d.ID,
		ProposedBy: from,
		Text:       p.Text,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.stores.Rooms.SaveAmendment(ctx, a); err != nil {
		return nil, internal(err)
	}
	meta := metaJSON(map[string]string{"decision_id": d.ID, "amendment_id": a.ID})
	if _, perr := r.post(ctx, e, from, d.ChannelID, protocol.RoomMsgAmendment, p.Text, d.ID, meta, a.ID); perr != nil {
		return nil, perr
	}
	view := amendmentView(a)
	r.emit(protocol.EventAmendmentProposed, view)
	return &view, nil
}

func amendmentView(a *store.AmendmentData) AmendmentView {
	return AmendmentView{
		ID:         a.ID,
		DecisionID: a.DecisionID,
		ProposedBy: a.ProposedBy,
		Text:       a.Text,
		Accepted:   a.Accepted,
		CreatedAt:  a.CreatedAt,
		AcceptedAt: a.AcceptedAt,
	}
}

// AcceptAmendment marks the amendment accepted and rewrites the decision's
// effective text. Only the proposer or a coordinator may accept. Accepting an
// already-accepted amendment is a no-op.
func (e *Engine) AcceptAmendment(ctx context.Context, from string, p AcceptAmendmentParams) (*AmendmentView, error) {
	d, r, derr := e.lockDecision(ctx, p.DecisionID)
	if derr != nil {
		return nil, derr
	}
	defer r.mu.Unlock()

	if !e.mayAccept(r, d, from) {
		return nil, forbidden("only the proposer or a coordinator may accept amendments on %q", d.ID)
	}
	amendments, err := e.stores.Rooms.ListAmendments(ctx, d.ID)
	if err != nil {
		return nil, internal(err)
	}
	var target *store.AmendmentData
	for i := range amendments {
		if amendments[i].ID == p.AmendmentID {
			target = &amendments[i]
			break
		}
	}
	if target == nil {
		return nil, notFound("amendment %q does not exist on decision %q", p.AmendmentID, d.ID)
	}
	if target.Accepted {
		v := amendmentView(target)
		return &v, nil
	}
	if protocol.DecisionClosed(d.Status) {
		return nil, conflict("decision %q is %s", d.ID, d.Status)
	}

	now := time.Now().UTC()
	if err := e.stores.Rooms.AcceptAmendment(ctx, target.ID, now); err != nil {
		return nil, internal(err)
	}
	if err := e.stores.Rooms.UpdateDecisionText(ctx, d.ID, target.Text); err != nil {
		return nil, internal(err)
	}
	target.Accepted = true
	target.AcceptedAt = &now
	view := amendmentView(target)
	r.emit(protocol.EventAmendmentAccepted, view)

	if p.Supersede {
		if cerr := e.closeDecision(ctx, r, d, protocol.DecisionSuperseded, now); cerr != nil {
			return nil, cerr
		}
	}
	return &view, nil
}

func (e *Engine) mayAccept(r *roomState, d *store.DecisionData, from string) bool {
	if from == d.ProposedBy {
		return true
	}
	m, ok := r.members[from]
	return ok && m.Active && m.Role == protocol.RoleCoordinator
}

// WithdrawDecision closes an open decision as withdrawn. Proposer only.
func (e *Engine) WithdrawDecision(ctx context.Context, from, decisionID string) (*DecisionView, error) {
	d, r, derr := e.lockDecision(ctx, decisionID)
	if derr != nil {
		return nil, derr
	}
	defer r.mu.Unlock()

	if from != d.ProposedBy {
		return nil, forbidden("only the proposer may withdraw decision %q", d.ID)
	}
	if protocol.DecisionClosed(d.Status) {
		return nil, conflict("decision %q is %s", d.ID, d.Status)
	}
	if cerr := e.closeDecision(ctx, r, d, protocol.DecisionWithdrawn, time.Now().UTC()); cerr != nil {
		return nil, cerr
	}
	return baseDecisionView(d), nil
}

// AddArgument appends a pro or con debate argument to an open decision.
func (e *Engine) AddArgument(ctx context.Context, from string, p AddArgumentParams) (*ArgumentView, error) {
	if p.Position != protocol.PositionPro && p.Position != protocol.PositionCon {
		return nil, invalid("position must be pro or con")
	}
	if err := protocol.ValidateText(p.Text); err != nil {
		return nil, invalid("%v", err)
	}
	d, r, derr := e.lockDecision(ctx, p.DecisionID)
	if derr != nil {
		return nil, derr
	}
	defer r.mu.Unlock()

	if protocol.DecisionClosed(d.Status) {
		return nil, conflict("decision %q is %s", d.ID, d.Status)
	}
	a := &store.DebateArgumentData{
		ID:         store.NewID(),
		DecisionID: d.ID,
		From:       from,
		Position:   p.Position,
		Text:       p.Text,
		Evidence:   p.Evidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.stores.Rooms.SaveDebateArgument(ctx, a); err != nil {
		return nil, internal(err)
	}
	meta := metaJSON(map[string]string{"decision_id": d.ID, "position": p.Position})
	if _, perr := r.post(ctx, e, from, d.ChannelID, protocol.RoomMsgArgument, p.Text, d.ID, meta, ""); perr != nil {
		return nil, perr
	}
	view := argumentView(a)
	r.emit(protocol.EventArgumentAdded, view)
	return &view, nil
}

func argumentView(a *store.DebateArgumentData) ArgumentView {
	return ArgumentView{
		ID:        a.ID,
		From:      a.From,
		Position:  a.Position,
		Text:      a.Text,
		Evidence:  a.Evidence,
		CreatedAt: a.CreatedAt,
	}
}

// Vote records a ballot with the voter's weight snapshot, then tallies. A
// re-vote while the decision is open overwrites the previous ballot; a veto
// by a reviewer on a consensus decision closes it immediately.
func (e *Engine) Vote(ctx context.Context, from string, p VoteParams) (*DecisionView, error) {
	d, r, derr := e.lockDecision(ctx, p.DecisionID)
	if derr != nil {
		return nil, derr
	}
	defer r.mu.Unlock()

	if protocol.DecisionClosed(d.Status) {
		return nil, conflict("decision %q is %s", d.ID, d.Status)
	}
	voter, ok := r.members[from]
	if !ok || !voter.Active {
		return nil, forbidden("client %q is not an active member of room %q", from, d.RoomID)
	}

	v := &store.VoteData{
		DecisionID: d.ID,
		Voter:      from,
		Approve:    p.Approve,
		Veto:       p.Veto,
		Weight:     voter.VoteWeight,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.stores.Rooms.UpsertVote(ctx, v); err != nil {
		return nil, internal(err)
	}
	r.emit(protocol.EventVoteCast, VoteView{
		Voter: from, Approve: p.Approve, Veto: p.Veto, Weight: v.Weight, CreatedAt: v.CreatedAt,
	})

	if d.VoteType == protocol.VoteConsensus && p.Veto && voter.Role == protocol.RoleReviewer {
		if cerr := e.closeDecision(ctx, r, d, protocol.DecisionVetoed, time.Now().UTC()); cerr != nil {
			return nil, cerr
		}
		return baseDecisionView(d), nil
	}

	if terr := e.tally(ctx, r, d); terr != nil {
		return nil, terr
	}
	return baseDecisionView(d), nil
}

// tally applies the decision's voting rule against the current active
// membership. It closes the decision only once the outcome can no longer
// change (or, for quorum, once the vote-count threshold is met).
func (e *Engine) tally(ctx context.Context, r *roomState, d *store.DecisionData) error {
	votes, err := e.stores.Rooms.ListVotes(ctx, d.ID)
	if err != nil {
		return internal(err)
	}

	var yes, no float64
	voted := make(map[string]bool, len(votes))
	anyReject := false
	for _, v := range votes {
		voted[v.Voter] = true
		if v.Approve {
			yes += v.Weight
		} else {
			no += v.Weight
			anyReject = true
		}
	}

	var totalWeight float64
	allVoted := true
	for _, m := range r.members {
		if !m.Active {
			continue
		}
		totalWeight += m.VoteWeight
		if !voted[m.ClientID] {
			allVoted = false
		}
	}

	status := protocol.DecisionOpen
	switch d.VoteType {
	case protocol.VoteConsensus:
		if anyReject {
			status = protocol.DecisionRejected
		} else if allVoted {
			status = protocol.DecisionApproved
		}
	case protocol.VoteQuorum:
		if len(votes) >= d.RequiredVotes {
			if yes > no {
				status = protocol.DecisionApproved
			} else {
				status = protocol.DecisionRejected
			}
		}
	default: // simple_majority, weighted
		if yes > totalWeight/2 {
			status = protocol.DecisionApproved
		} else if allVoted {
			if yes > no {
				status = protocol.DecisionApproved
			} else {
				status = protocol.DecisionRejected
			}
		}
	}

	if status == protocol.DecisionOpen {
		return nil
	}
	return e.closeDecision(ctx, r, d, status, time.Now().UTC())
}

// closeDecision persists the terminal status and broadcasts it. Caller holds
// the room lock; terminal states are absorbing.
func (e *Engine) closeDecision(ctx context.Context, r *roomState, d *store.DecisionData, status string, at time.Time) error {
	if err := e.stores.Rooms.CloseDecision(ctx, d.ID, status, at); err != nil {
		return internal(err)
	}
	d.Status = status
	d.ClosedAt = &at
	r.emit(protocol.EventDecisionClosed, map[string]string{
		"decision_id": d.ID,
		"status":      status,
	})
	slog.Info("decision closed", "decision_id", d.ID, "room_id", d.RoomID, "status", status)
	return nil
}

// lockDecision loads the decision and returns it with its room locked. The
// decision row is re-read under the lock so concurrent closes are visible.
func (e *Engine) lockDecision(ctx context.Context, decisionID string) (*store.DecisionData, *roomState, error) {
	d, err := e.stores.Rooms.GetDecision(ctx, decisionID)
	if err == store.ErrNotFound {
		return nil, nil, notFound("decision %q does not exist", decisionID)
	}
	if err != nil {
		return nil, nil, internal(err)
	}
	r, rerr := e.room(d.RoomID)
	if rerr != nil {
		return nil, nil, rerr
	}
	r.mu.Lock()
	d, err = e.stores.Rooms.GetDecision(ctx, decisionID)
	if err != nil {
		r.mu.Unlock()
		return nil, nil, internal(err)
	}
	if r.data.State == store.RoomClosed {
		r.mu.Unlock()
		return nil, nil, conflict("room %q is closed", d.RoomID)
	}
	return d, r, nil
}

// GetDecision returns the decision's full derived state.
func (e *Engine) GetDecision(ctx context.Context, decisionID string) (*DecisionView, error) {
	d, err := e.stores.Rooms.GetDecision(ctx, decisionID)
	if err == store.ErrNotFound {
		return nil, notFound("decision %q does not exist", decisionID)
	}
	if err != nil {
		return nil, internal(err)
	}
	return e.decisionView(ctx, d)
}

func (e *Engine) decisionView(ctx context.Context, d *store.DecisionData) (*DecisionView, error) {
	view := baseDecisionView(d)

	alts, err := e.stores.Rooms.ListAlternatives(ctx, d.ID)
	if err != nil {
		return nil, internal(err)
	}
	view.Alternatives = alts

	amendments, err := e.stores.Rooms.ListAmendments(ctx, d.ID)
	if err != nil {
		return nil, internal(err)
	}
	related := map[string]bool{d.ID: true}
	for i := range amendments {
		view.Amendments = append(view.Amendments, amendmentView(&amendments[i]))
		related[amendments[i].ID] = true
	}
	for _, alt := range alts {
		related[alt] = true
	}

	args, err := e.stores.Rooms.ListDebateArguments(ctx, d.ID)
	if err != nil {
		return nil, internal(err)
	}
	for i := range args {
		av := argumentView(&args[i])
		if args[i].Position == protocol.PositionPro {
			view.ProArguments = append(view.ProArguments, av)
		} else {
			view.ConArguments = append(view.ConArguments, av)
		}
	}

	votes, err := e.stores.Rooms.ListVotes(ctx, d.ID)
	if err != nil {
		return nil, internal(err)
	}
	for _, v := range votes {
		view.Votes = append(view.Votes, VoteView{
			Voter: v.Voter, Approve: v.Approve, Veto: v.Veto, Weight: v.Weight, CreatedAt: v.CreatedAt,
		})
	}

	// Blocking critiques on the decision text, its amendments, or its
	// alternatives surface here; the broker never blocks on them itself.
	critiques, err := e.stores.Rooms.ListRoomCritiques(ctx, d.RoomID)
	if err != nil {
		return nil, internal(err)
	}
	for i := range critiques {
		c := &critiques[i]
		if c.Severity == protocol.SeverityBlocking && related[c.TargetMessageID] {
			view.BlockingCritiques = append(view.BlockingCritiques, critiqueView(c))
		}
	}
	return view, nil
}

// DebateView summarizes the argument lists and the running tallies.
type DebateView struct {
	DecisionID string         `json:"decision_id"`
	Status     string         `json:"status"`
	Pro        []ArgumentView `json:"pro"`
	Con        []ArgumentView `json:"con"`
	YesWeight  float64        `json:"yes_weight"`
	NoWeight   float64        `json:"no_weight"`
	VotesCast  int            `json:"votes_cast"`
}

// GetDebateSummary reports the pro/con arguments and vote standing.
func (e *Engine) GetDebateSummary(ctx context.Context, decisionID string) (*DebateView, error) {
	d, err := e.stores.Rooms.GetDecision(ctx, decisionID)
	if err == store.ErrNotFound {
		return nil, notFound("decision %q does not exist", decisionID)
	}
	if err != nil {
		return nil, internal(err)
	}

	view := &DebateView{DecisionID: d.ID, Status: d.Status}
	args, err := e.stores.Rooms.ListDebateArguments(ctx, d.ID)
	if err != nil {
		return nil, internal(err)
	}
	for i := range args {
		av := argumentView(&args[i])
		if args[i].Position == protocol.PositionPro {
			view.Pro = append(view.Pro, av)
		} else {
			view.Con = append(view.Con, av)
		}
	}
	votes, err := e.stores.Rooms.ListVotes(ctx, d.ID)
	if err != nil {
		return nil, internal(err)
	}
	view.VotesCast = len(votes)
	for _, v := range votes {
		if v.Approve {
			view.YesWeight += v.Weight
		} else {
			view.NoWeight += v.Weight
		}
	}
	return view, nil
}
