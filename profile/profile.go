// Package profile implements the per-PSID security profile table: the
// transmit policy that decides digest or certificate signer identification,
// and the receive policy that drives relevance, consistency and replay
// checks.
//
// Table and Entry are not internally locked; spdu.SecurityContext serializes
// access together with the certificate cache.
package profile

import (
	"sort"

	"xdao.co/v2xsec/model"
)

// Source says where a checked value is taken from.
type Source uint8

const (
	FromHeader Source = iota
	FromPayload
)

func (s Source) Valid() bool { return s <= FromPayload }

// Tx is the transmit policy of a profile.
type Tx struct {
	GenTimeHdr       bool            `yaml:"gen_time_hdr"`
	GenLocationHdr   bool            `yaml:"gen_location_hdr"`
	ExpTimeHdr       bool            `yaml:"exp_time_hdr"`
	SpduLifetime     model.Time64    `yaml:"spdu_lifetime"`
	MinInterCertTime model.Time64    `yaml:"min_inter_cert_time"`
	SignPointMode    model.PointMode `yaml:"sign_point_mode"`
	// SigningInterval is carried for configuration compatibility and unused.
	SigningInterval uint32 `yaml:"signing_interval"`
}

// Relevance configures receive-time plausibility checks.
type Relevance struct {
	Replay               bool         `yaml:"replay"`
	GenTimePast          bool         `yaml:"gen_time_past"`
	GenTimeFuture        bool         `yaml:"gen_time_future"`
	ValidityPeriod       model.Time64 `yaml:"validity_period"`
	AcceptableFutureSkew model.Time64 `yaml:"acceptable_future_skew"`
	GenTimeSource        Source       `yaml:"gen_time_source"`
	ExpTimeSource        Source       `yaml:"exp_time_source"`
	ExpTimeCheck         bool         `yaml:"exp_time_check"`
	GenLocationCheck     bool         `yaml:"gen_location_check"`
	CertExpiryCheck      bool         `yaml:"cert_expiry_check"`
	ValidDistance        uint32       `yaml:"valid_distance"`
	GenLocationSource    Source       `yaml:"gen_location_source"`
}

// Consistency configures checks of message attributes against the signer's
// certificate.
type Consistency struct {
	GenLocationCheck bool `yaml:"gen_location_check"`
	// OverdueCRLTolerance is in seconds; zero disables the overdue-CRL check.
	OverdueCRLTolerance uint32 `yaml:"overdue_crl_tolerance"`
}

// Rx is the receive policy of a profile.
type Rx struct {
	VerifyData  bool        `yaml:"verify_data"`
	Relevance   Relevance   `yaml:"relevance"`
	Consistency Consistency `yaml:"consistency"`
}

// Entry is the security profile of one PSID.
type Entry struct {
	Psid model.Psid `yaml:"psid"`
	Tx   Tx         `yaml:"tx"`
	Rx   Rx         `yaml:"rx"`

	certSigned       bool
	lastCertSignTime model.Time64
	replay           *ReplayList
}

// Validate rejects inconsistent field combinations. Parameters of a
// disabled check are never examined.
func (e *Entry) Validate() error {
	if !e.Psid.Valid() {
		return model.Errorf(model.ErrInvalidProfile, "profile: psid %d out of range", e.Psid)
	}
	if !e.Tx.SignPointMode.Valid() {
		return model.Errorf(model.ErrInvalidProfile, "profile %d: sign_point_mode %d", e.Psid, e.Tx.SignPointMode)
	}
	r := e.Rx.Relevance
	if (r.GenTimePast || r.GenTimeFuture || r.CertExpiryCheck || r.Replay) && !r.GenTimeSource.Valid() {
		return model.Errorf(model.ErrInvalidProfile, "profile %d: gen_time_source %d", e.Psid, r.GenTimeSource)
	}
	if (r.GenTimePast || r.Replay) && r.ValidityPeriod == 0 {
		return model.Errorf(model.ErrInvalidProfile, "profile %d: validity_period required", e.Psid)
	}
	if r.ExpTimeCheck && !r.ExpTimeSource.Valid() {
		return model.Errorf(model.ErrInvalidProfile, "profile %d: exp_time_source %d", e.Psid, r.ExpTimeSource)
	}
	if r.GenLocationCheck {
		if !r.GenLocationSource.Valid() {
			return model.Errorf(model.ErrInvalidProfile, "profile %d: gen_location_source %d", e.Psid, r.GenLocationSource)
		}
		if r.ValidDistance == 0 {
			return model.Errorf(model.ErrInvalidProfile, "profile %d: valid_distance required", e.Psid)
		}
	}
	return nil
}

// SelectSignerID decides how the next message signed under this profile
// identifies its signer. The first call, and any call at least
// MinInterCertTime after the last certificate-signed message, yields
// SignerCertificate and restarts the window; everything else yields
// SignerDigest.
func (e *Entry) SelectSignerID(now model.Time64) model.SignerKind {
	kind := e.PeekSignerID(now)
	e.CommitSignerID(kind, now)
	return kind
}

// PeekSignerID is SelectSignerID without recording the choice. Callers that
// may fail to send commit it with CommitSignerID once the message exists.
func (e *Entry) PeekSignerID(now model.Time64) model.SignerKind {
	if !e.certSigned || (now >= e.lastCertSignTime && now-e.lastCertSignTime >= e.Tx.MinInterCertTime) {
		return model.SignerCertificate
	}
	return model.SignerDigest
}

// CommitSignerID records that a message identified by kind was signed at now.
// Only certificate-signed messages restart the window.
func (e *Entry) CommitSignerID(kind model.SignerKind, now model.Time64) {
	if kind != model.SignerCertificate {
		return
	}
	if !e.certSigned || now > e.lastCertSignTime {
		e.lastCertSignTime = now
	}
	e.certSigned = true
}

// LastCertSignTime returns the time of the last certificate-signed message.
func (e *Entry) LastCertSignTime() (model.Time64, bool) { return e.lastCertSignTime, e.certSigned }

// ReplayList returns the replay list owned by e.
func (e *Entry) ReplayList() *ReplayList { return e.replay }

// DefaultCapacity bounds a Table when Options.Capacity is zero.
const DefaultCapacity = 64

// Options configures a Table.
type Options struct {
	Capacity       int `yaml:"capacity"`
	ReplayCapacity int `yaml:"replay_capacity"`
}

// Table holds at most one Entry per PSID.
type Table struct {
	opts    Options
	entries map[model.Psid]*Entry
}

// NewTable returns an empty table.
func NewTable(opts Options) *Table {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.ReplayCapacity <= 0 {
		opts.ReplayCapacity = DefaultReplayCapacity
	}
	return &Table{opts: opts, entries: map[model.Psid]*Entry{}}
}

// LoadTable builds a table from configured profiles.
func LoadTable(opts Options, entries []Entry) (*Table, error) {
	t := NewTable(opts)
	for i := range entries {
		if err := t.Add(entries[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add installs a copy of e. Its signer-id state and replay list start empty.
func (t *Table) Add(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, ok := t.entries[e.Psid]; ok {
		return model.Errorf(model.ErrDuplicateProfile, "profile: psid %d already present", e.Psid)
	}
	if len(t.entries) >= t.opts.Capacity {
		return model.Errorf(model.ErrTableFull, "profile: table full (%d)", t.opts.Capacity)
	}
	ent := e
	ent.certSigned = false
	ent.lastCertSignTime = 0
	ent.replay = NewReplayList(t.opts.ReplayCapacity)
	t.entries[e.Psid] = &ent
	return nil
}

// Get returns the entry for psid.
func (t *Table) Get(psid model.Psid) (*Entry, error) {
	e, ok := t.entries[psid]
	if !ok {
		return nil, model.Errorf(model.ErrProfileNotFound, "profile: no profile for psid %d", psid)
	}
	return e, nil
}

// Len returns the number of profiles.
func (t *Table) Len() int { return len(t.entries) }

// Psids returns the configured PSIDs in ascending order.
func (t *Table) Psids() []model.Psid {
	out := make([]model.Psid, 0, len(t.entries))
	for p := range t.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Flush removes every profile.
func (t *Table) Flush() {
	t.entries = map[model.Psid]*Entry{}
}
