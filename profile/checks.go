package profile

import (
	"xdao.co/v2xsec/model"
)

// PayloadFields are values an application extracted from the payload, used
// by checks whose source is FromPayload.
type PayloadFields struct {
	GenerationTime     *model.Time64
	ExpiryTime         *model.Time64
	GenerationLocation *model.Location
}

// Observation is everything the receive checks look at for one message.
type Observation struct {
	RxTime     model.Time64
	RxLocation *model.Location
	Header     model.HeaderInfo
	Payload    PayloadFields
	Signature  []byte

	// Signer certificate attributes.
	CertValidity  model.ValidityPeriod
	CertRegion    model.Region
	CracaID       model.HashedID3
	CrlSeries     uint16
	CRLNextUpdate *model.Time64
}

func (o *Observation) genTime(src Source) *model.Time64 {
	if src == FromPayload {
		return o.Payload.GenerationTime
	}
	return o.Header.GenerationTime
}

func (o *Observation) expTime(src Source) *model.Time64 {
	if src == FromPayload {
		return o.Payload.ExpiryTime
	}
	return o.Header.ExpiryTime
}

func (o *Observation) genLocation(src Source) *model.Location {
	if src == FromPayload {
		return o.Payload.GenerationLocation
	}
	return o.Header.GenerationLocation
}

func missing(psid model.Psid, field string) error {
	return model.Errorf(model.ErrMissingHeaderField, "profile %d: %s not present", psid, field)
}

// CheckConsistency verifies message attributes against the signer's
// certificate: the generation location lies in the certificate region and
// the certificate's CRL is not overdue beyond the configured tolerance. An
// unknown CRL is not overdue.
func (e *Entry) CheckConsistency(o *Observation) error {
	c := e.Rx.Consistency
	if c.GenLocationCheck {
		loc := o.Header.GenerationLocation
		if loc == nil {
			loc = o.Payload.GenerationLocation
		}
		if loc == nil {
			return missing(e.Psid, "generation location")
		}
		if !o.CertRegion.Contains(*loc) {
			return model.Errorf(model.ErrLocationOutside, "profile %d: generation location outside certificate region", e.Psid)
		}
	}
	if c.OverdueCRLTolerance > 0 && o.CRLNextUpdate != nil {
		deadline := *o.CRLNextUpdate + model.Time64(c.OverdueCRLTolerance)*model.Second
		if o.RxTime > deadline {
			return model.Errorf(model.ErrCRLOverdue, "profile %d: crl series %d overdue", e.Psid, o.CrlSeries)
		}
	}
	return nil
}

// CheckRelevance verifies that the message is plausible at receive time.
// Replay detection is separate (see Replay) because it mutates the list.
func (e *Entry) CheckRelevance(o *Observation) error {
	r := e.Rx.Relevance
	var gen model.Time64
	if r.GenTimePast || r.GenTimeFuture || r.CertExpiryCheck || r.Replay {
		g := o.genTime(r.GenTimeSource)
		if g == nil {
			return missing(e.Psid, "generation time")
		}
		gen = *g
	}
	if r.GenTimePast && gen+r.ValidityPeriod < o.RxTime {
		return model.Errorf(model.ErrGenTimeTooOld, "profile %d: generated %d, received %d", e.Psid, gen, o.RxTime)
	}
	if r.GenTimeFuture && gen > o.RxTime+r.AcceptableFutureSkew {
		return model.Errorf(model.ErrGenTimeInFuture, "profile %d: generated %d, received %d", e.Psid, gen, o.RxTime)
	}
	if r.ExpTimeCheck {
		exp := o.expTime(r.ExpTimeSource)
		if exp == nil {
			return missing(e.Psid, "expiry time")
		}
		if o.RxTime >= *exp {
			return model.Errorf(model.ErrSpduExpired, "profile %d: expired at %d", e.Psid, *exp)
		}
	}
	if r.GenLocationCheck {
		loc := o.genLocation(r.GenLocationSource)
		if loc == nil {
			return missing(e.Psid, "generation location")
		}
		if o.RxLocation == nil {
			return model.Errorf(model.ErrInvalidArgument, "profile %d: receiver location required", e.Psid)
		}
		if d := model.DistanceMeters(*loc, *o.RxLocation); d > float64(r.ValidDistance) {
			return model.Errorf(model.ErrTooFar, "profile %d: generated %.0fm away", e.Psid, d)
		}
	}
	if r.CertExpiryCheck && !o.CertValidity.Contains(gen) {
		return model.Errorf(model.ErrCertExpired, "profile %d: certificate not valid at generation time", e.Psid)
	}
	return nil
}

// Replay rejects a message already accepted within the validity period and
// records it otherwise. It is a no-op when replay detection is disabled.
func (e *Entry) Replay(o *Observation) error {
	r := e.Rx.Relevance
	if !r.Replay {
		return nil
	}
	g := o.genTime(r.GenTimeSource)
	if g == nil {
		return missing(e.Psid, "generation time")
	}
	if e.replay.Check(o.RxTime, *g, o.Signature, r.ValidityPeriod) {
		return model.Errorf(model.ErrReplay, "profile %d: replayed message", e.Psid)
	}
	e.replay.Add(o.RxTime, *g, o.Signature)
	return nil
}
