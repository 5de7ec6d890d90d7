// Package emergency dispatches fleet agents to assistance requests and
// tracks the responses until they complete.
package emergency

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/skyswarm/core/logger"
	"github.com/kilianp07/skyswarm/core/model"
)

// Config holds the dispatcher settings.
type Config struct {
	Selector        string  `json:"selector"`
	MaxResponders   int     `json:"max_responders"`
	DefaultSpeedKmh float64 `json:"default_speed_kmh"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Selector == "" {
		c.Selector = RankedSelector
	}
	if c.MaxResponders <= 0 || c.MaxResponders > model.MaxResponders {
		c.MaxResponders = model.MaxResponders
	}
	if c.DefaultSpeedKmh <= 0 {
		c.DefaultSpeedKmh = 50
	}
}

// Validate checks the selector name.
func (c Config) Validate() error {
	_, err := SelectorFor(c.Selector)
	return err
}

var responseFor = map[model.AssistanceType]model.ResponseType{
	model.AssistLowBattery:        model.ResponseBatteryAssist,
	model.AssistPayloadTransfer:   model.ResponsePickupTransfer,
	model.AssistNavigationFailure: model.ResponseNavigationAid,
	model.AssistCrash:             model.ResponsePhysicalRescue,
}

var costFor = map[model.ResponseType]float64{
	model.ResponseBatteryAssist:  50,
	model.ResponsePickupTransfer: 80,
	model.ResponseNavigationAid:  20,
	model.ResponsePhysicalRescue: 200,
}

// etaFallback is used when no responder has a position fix.
var etaFallback = map[model.ResponseType]time.Duration{
	model.ResponseBatteryAssist:  10 * time.Minute,
	model.ResponsePickupTransfer: 15 * time.Minute,
	model.ResponseNavigationAid:  5 * time.Minute,
	model.ResponsePhysicalRescue: 30 * time.Minute,
}

// ResponseTypeFor maps an assistance type to the response dispatched for it.
func ResponseTypeFor(a model.AssistanceType) (model.ResponseType, error) {
	r, ok := responseFor[a]
	if !ok {
		return 0, model.Validationf("emergency: unknown assistance type %d", a)
	}
	return r, nil
}

// Cost returns the fixed resource cost of a response type.
func Cost(r model.ResponseType) float64 { return costFor[r] }

// SuccessRate maps a completion outcome to its success rate.
func SuccessRate(o model.Outcome) int {
	switch o {
	case model.OutcomeSuccess:
		return 100
	case model.OutcomePartial:
		return 50
	default:
		return 0
	}
}

// Dispatcher owns the pending requests and their responses.
type Dispatcher struct {
	mu       sync.RWMutex
	cfg      Config
	selector Selector
	log      logger.Logger
	now      func() time.Time
	newID    func() string

	requests  map[string]model.EmergencyRequest
	pending   []string
	responses map[string]model.EmergencyResponse
	// open maps a request to its response until the request closes.
	open    map[string]string
	history []string
}

// New returns a dispatcher using the selector named in cfg.
func New(cfg Config, log logger.Logger) (*Dispatcher, error) {
	cfg.SetDefaults()
	sel, err := SelectorFor(cfg.Selector)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:       cfg,
		selector:  sel,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
		requests:  make(map[string]model.EmergencyRequest),
		responses: make(map[string]model.EmergencyResponse),
		open:      make(map[string]string),
	}, nil
}

// SetSelector replaces the responder selection policy.
func (d *Dispatcher) SetSelector(s Selector) {
	d.mu.Lock()
	d.selector = s
	d.mu.Unlock()
}

// Dispatch selects responders for req among available and returns the
// response. The request moves to InProgress and joins the pending set. When
// no candidate is eligible nothing is recorded and the error wraps
// model.ErrNoRespondersAvailable.
func (d *Dispatcher) Dispatch(req model.EmergencyRequest, available []Candidate) (model.EmergencyResponse, model.EmergencyRequest, error) {
	if err := req.Validate(); err != nil {
		return model.EmergencyResponse{}, req, err
	}
	if req.Status.Terminal() {
		return model.EmergencyResponse{}, req, model.Validationf("emergency: request %s is %s", req.ID, req.Status)
	}
	respType, err := ResponseTypeFor(req.Assistance)
	if err != nil {
		return model.EmergencyResponse{}, req, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if req.ID != "" {
		if _, dup := d.open[req.ID]; dup {
			return model.EmergencyResponse{}, req, model.Validationf("emergency: request %s already dispatched", req.ID)
		}
		if prev, ok := d.requests[req.ID]; ok && prev.Status.Terminal() {
			return model.EmergencyResponse{}, req, model.Validationf("emergency: request %s is %s", req.ID, prev.Status)
		}
	}

	room := d.cfg.MaxResponders - len(req.Responders)
	if room <= 0 {
		return model.EmergencyResponse{}, req, model.Validationf("emergency: request %s already has %d responders", req.ID, len(req.Responders))
	}
	chosen := d.selector.Select(req, respType, available, room)
	if len(chosen) == 0 {
		return model.EmergencyResponse{}, req, fmt.Errorf("emergency: %s for %s: %w", req.Assistance, req.AgentID, model.ErrNoRespondersAvailable)
	}

	now := d.now()
	if req.ID == "" {
		req.ID = d.newID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	ids := make([]string, len(chosen))
	for i, c := range chosen {
		ids[i] = c.Agent.ID
	}
	req.Responders = append(append([]string(nil), req.Responders...), ids...)
	if err := req.Transition(model.RequestInProgress); err != nil {
		return model.EmergencyResponse{}, req, err
	}

	resp := model.EmergencyResponse{
		ID:            d.newID(),
		RequestID:     req.ID,
		Responders:    ids,
		Type:          respType,
		Plan:          buildPlan(req, respType, ids),
		EstimatedTime: d.estimate(req, respType, chosen),
		Cost:          Cost(respType),
		DispatchedAt:  now,
	}
	d.requests[req.ID] = req
	d.pending = append(d.pending, req.ID)
	d.responses[resp.ID] = resp
	d.open[req.ID] = resp.ID
	d.log.Infof("emergency %s (%s, urgency %d) dispatched to %v, eta %s", req.ID, req.Assistance, req.Urgency, ids, resp.EstimatedTime)
	return resp, req, nil
}

// estimate uses the nearest responder with a position fix.
func (d *Dispatcher) estimate(req model.EmergencyRequest, resp model.ResponseType, chosen []Candidate) time.Duration {
	best := math.Inf(1)
	for _, c := range chosen {
		if c.Agent.Position.IsZero() {
			continue
		}
		speed := c.Agent.CruiseSpeedKmh
		if speed <= 0 {
			speed = d.cfg.DefaultSpeedKmh
		}
		if h := model.DistanceKm(c.Agent.Position, req.Location) / speed; h < best {
			best = h
		}
	}
	if math.IsInf(best, 1) {
		return etaFallback[resp]
	}
	return time.Duration(best * float64(time.Hour)).Round(time.Second)
}

// Complete closes a response. Success and Partial resolve the request,
// Failed cancels it. Either way the request leaves the pending set.
func (d *Dispatcher) Complete(responseID string, outcome model.Outcome, at time.Time) (model.EmergencyResponse, model.EmergencyRequest, error) {
	if outcome == model.OutcomeNone {
		return model.EmergencyResponse{}, model.EmergencyRequest{}, model.Validationf("emergency: completion outcome is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, ok := d.responses[responseID]
	if !ok {
		return model.EmergencyResponse{}, model.EmergencyRequest{}, fmt.Errorf("emergency: response %s: %w", responseID, model.ErrNotFound)
	}
	if !resp.CompletedAt.IsZero() {
		return model.EmergencyResponse{}, model.EmergencyRequest{}, fmt.Errorf("emergency: response %s already completed: %w", responseID, model.ErrInvalidTransition)
	}
	req := d.requests[resp.RequestID]
	if d.open[req.ID] != responseID {
		return model.EmergencyResponse{}, model.EmergencyRequest{}, fmt.Errorf("emergency: request %s is %s: %w", req.ID, req.Status, model.ErrInvalidTransition)
	}
	if at.IsZero() {
		at = d.now()
	}

	next := model.RequestResolved
	if outcome == model.OutcomeFailed {
		next = model.RequestCancelled
		req.CancelReason = "response failed"
	}
	if err := req.Transition(next); err != nil {
		return model.EmergencyResponse{}, model.EmergencyRequest{}, err
	}
	req.ResolvedAt = at
	resp.CompletedAt = at
	resp.ActualTime = at.Sub(resp.DispatchedAt)
	if resp.ActualTime < 0 {
		resp.ActualTime = 0
	}
	resp.SuccessRate = SuccessRate(outcome)

	d.requests[req.ID] = req
	d.responses[resp.ID] = resp
	d.close(req.ID)
	d.history = append(d.history, resp.ID)
	d.log.Infof("emergency %s completed: %s, success %d%%, took %s", req.ID, outcome, resp.SuccessRate, resp.ActualTime)
	return resp, req, nil
}

// Cancel cancels a pending request.
func (d *Dispatcher) Cancel(requestID, reason string) (model.EmergencyRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	req, ok := d.requests[requestID]
	if !ok {
		return model.EmergencyRequest{}, fmt.Errorf("emergency: request %s: %w", requestID, model.ErrNotFound)
	}
	if err := req.Transition(model.RequestCancelled); err != nil {
		return model.EmergencyRequest{}, err
	}
	req.CancelReason = reason
	req.ResolvedAt = d.now()
	d.requests[req.ID] = req
	d.close(req.ID)
	d.log.Infof("emergency %s cancelled: %s", req.ID, reason)
	return req, nil
}

func (d *Dispatcher) close(requestID string) {
	delete(d.open, requestID)
	for i, id := range d.pending {
		if id == requestID {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return
		}
	}
}

// Pending returns the open requests in dispatch order.
func (d *Dispatcher) Pending() []model.EmergencyRequest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.EmergencyRequest, len(d.pending))
	for i, id := range d.pending {
		out[i] = d.requests[id]
	}
	return out
}

// Request returns a request by identifier, open or closed.
func (d *Dispatcher) Request(id string) (model.EmergencyRequest, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.requests[id]
	return r, ok
}

// Response returns a response by identifier.
func (d *Dispatcher) Response(id string) (model.EmergencyResponse, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.responses[id]
	return r, ok
}

// History returns the completed responses in completion order.
func (d *Dispatcher) History() []model.EmergencyResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.EmergencyResponse, len(d.history))
	for i, id := range d.history {
		out[i] = d.responses[id]
	}
	return out
}
