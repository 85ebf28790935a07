package profile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"xdao.co/v2xsec/model"
)

func TestSelectSignerIDPeriod(t *testing.T) {
	e := &Entry{Psid: 32, Tx: Tx{MinInterCertTime: 450_000}}
	now := model.Time64(1_000_000)
	var got []model.SignerKind
	for i := 0; i < 15; i++ {
		got = append(got, e.SelectSignerID(now))
		now += 100_000
	}
	for i, k := range got {
		if i%5 == 0 {
			assert.Equal(t, model.SignerCertificate, k, "call %d", i)
		} else {
			assert.Equal(t, model.SignerDigest, k, "call %d", i)
		}
	}
	last, ok := e.LastCertSignTime()
	require.True(t, ok)
	assert.Equal(t, model.Time64(2_000_000), last)
}

func TestSelectSignerIDMonotonic(t *testing.T) {
	for _, T := range []model.Time64{1, 2, 1000, 450_000} {
		e := &Entry{Tx: Tx{MinInterCertTime: T}}
		t0 := model.Time64(5_000_000)
		assert.Equal(t, model.SignerCertificate, e.SelectSignerID(t0), "T=%d", T)
		assert.Equal(t, model.SignerDigest, e.SelectSignerID(t0+T-1), "T=%d", T)
		assert.Equal(t, model.SignerCertificate, e.SelectSignerID(t0+T), "T=%d", T)
	}
}

func TestPeekSignerIDDoesNotStartWindow(t *testing.T) {
	e := &Entry{Tx: Tx{MinInterCertTime: 1000}}
	t0 := model.Time64(5_000_000)
	assert.Equal(t, model.SignerCertificate, e.PeekSignerID(t0))
	assert.Equal(t, model.SignerCertificate, e.PeekSignerID(t0+1), "nothing committed yet")
	_, ok := e.LastCertSignTime()
	assert.False(t, ok)

	e.CommitSignerID(model.SignerDigest, t0)
	_, ok = e.LastCertSignTime()
	assert.False(t, ok, "digest messages do not open a window")

	e.CommitSignerID(model.SignerCertificate, t0+1)
	assert.Equal(t, model.SignerDigest, e.PeekSignerID(t0+2))
	e.CommitSignerID(model.SignerCertificate, t0)
	last, ok := e.LastCertSignTime()
	require.True(t, ok)
	assert.Equal(t, t0+1, last, "a late commit never moves the window back")
}

func TestReplayBounding(t *testing.T) {
	const n = 8
	l := NewReplayList(n)
	for i := 0; i <= n; i++ {
		l.Add(100, model.Time64(i), []byte{byte(i)})
	}
	assert.Equal(t, n, l.Len())
	assert.False(t, l.Check(100, 0, []byte{0}, model.Minute), "oldest evicted")
	assert.True(t, l.Check(100, n, []byte{n}, model.Minute), "newest present")
	assert.True(t, l.Check(100, 1, []byte{1}, model.Minute))
}

func TestReplayLazyExpiry(t *testing.T) {
	l := NewReplayList(4)
	l.Add(0, 1, []byte("a"))
	l.Add(5*model.Second, 2, []byte("b"))

	assert.False(t, l.Check(11*model.Second, 1, []byte("a"), 10*model.Second))
	assert.Equal(t, 1, l.Len(), "scan dropped the stale entry")
	assert.True(t, l.Check(11*model.Second, 2, []byte("b"), 10*model.Second))
	assert.False(t, l.Check(11*model.Second, 2, []byte("c"), 10*model.Second), "signature must match")
}

func TestTableAdd(t *testing.T) {
	tbl := NewTable(Options{Capacity: 2})
	require.NoError(t, tbl.Add(Entry{Psid: 32}))
	err := tbl.Add(Entry{Psid: 32})
	assert.True(t, model.IsCode(err, model.ErrDuplicateProfile))
	require.NoError(t, tbl.Add(Entry{Psid: 38}))
	err = tbl.Add(Entry{Psid: 39})
	assert.True(t, model.IsCode(err, model.ErrTableFull))
	assert.Equal(t, []model.Psid{32, 38}, tbl.Psids())

	_, err = tbl.Get(99)
	assert.True(t, model.IsCode(err, model.ErrProfileNotFound))
	e, err := tbl.Get(38)
	require.NoError(t, err)
	assert.NotNil(t, e.ReplayList())

	tbl.Flush()
	assert.Equal(t, 0, tbl.Len())
}

func TestValidateOnlyEnabledChecks(t *testing.T) {
	bad := Source(7)
	cases := []struct {
		name  string
		entry Entry
		ok    bool
	}{
		{"disabled gen time ignores bad source", Entry{Psid: 1, Rx: Rx{Relevance: Relevance{GenTimeSource: bad}}}, true},
		{"enabled gen time rejects bad source", Entry{Psid: 1, Rx: Rx{Relevance: Relevance{GenTimeFuture: true, GenTimeSource: bad}}}, false},
		{"disabled exp check ignores bad source", Entry{Psid: 1, Rx: Rx{Relevance: Relevance{ExpTimeSource: bad}}}, true},
		{"enabled exp check rejects bad source", Entry{Psid: 1, Rx: Rx{Relevance: Relevance{ExpTimeCheck: true, ExpTimeSource: bad}}}, false},
		{"location needs distance", Entry{Psid: 1, Rx: Rx{Relevance: Relevance{GenLocationCheck: true}}}, false},
		{"location with distance", Entry{Psid: 1, Rx: Rx{Relevance: Relevance{GenLocationCheck: true, ValidDistance: 500}}}, true},
		{"replay needs window", Entry{Psid: 1, Rx: Rx{Relevance: Relevance{Replay: true}}}, false},
		{"psid out of range", Entry{Psid: model.MaxPsid + 1}, false},
		{"bad point mode", Entry{Psid: 1, Tx: Tx{SignPointMode: 9}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewTable(Options{}).Add(tc.entry)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, model.IsCode(err, model.ErrInvalidProfile), "got %v", err)
			}
		})
	}
}

func tp(v model.Time64) *model.Time64 { return &v }

func TestCheckRelevance(t *testing.T) {
	e := &Entry{Psid: 32, Rx: Rx{Relevance: Relevance{
		GenTimePast: true, GenTimeFuture: true, ExpTimeCheck: true, CertExpiryCheck: true,
		ValidityPeriod: 10 * model.Second, AcceptableFutureSkew: model.Second,
		GenLocationCheck: true, ValidDistance: 1000,
	}}}
	here := model.Location{Latitude: 423000000, Longitude: -834000000}
	base := func() *Observation {
		return &Observation{
			RxTime:     100 * model.Second,
			RxLocation: &here,
			Header: model.HeaderInfo{
				Psid:               32,
				GenerationTime:     tp(99 * model.Second),
				ExpiryTime:         tp(105 * model.Second),
				GenerationLocation: &model.Location{Latitude: 423005000, Longitude: -834000000},
			},
			CertValidity: model.ValidityPeriod{Start: 0, End: 1000 * model.Second},
		}
	}
	require.NoError(t, e.CheckRelevance(base()))

	cases := map[model.Code]func(o *Observation){
		model.ErrGenTimeTooOld:      func(o *Observation) { o.Header.GenerationTime = tp(89 * model.Second) },
		model.ErrGenTimeInFuture:    func(o *Observation) { o.Header.GenerationTime = tp(102 * model.Second) },
		model.ErrSpduExpired:        func(o *Observation) { o.Header.ExpiryTime = tp(100 * model.Second) },
		model.ErrTooFar:             func(o *Observation) { o.Header.GenerationLocation = &model.Location{Latitude: 424000000, Longitude: -834000000} },
		model.ErrCertExpired:        func(o *Observation) { o.CertValidity.End = 99 * model.Second },
		model.ErrMissingHeaderField: func(o *Observation) { o.Header.GenerationTime = nil },
		model.ErrInvalidArgument:    func(o *Observation) { o.RxLocation = nil },
	}
	for code, mutate := range cases {
		t.Run(code.String(), func(t *testing.T) {
			o := base()
			mutate(o)
			err := e.CheckRelevance(o)
			assert.True(t, model.IsCode(err, code), "got %v", err)
		})
	}
}

func TestCheckRelevanceFromPayload(t *testing.T) {
	e := &Entry{Psid: 32, Rx: Rx{Relevance: Relevance{GenTimePast: true, ValidityPeriod: model.Second, GenTimeSource: FromPayload}}}
	o := &Observation{RxTime: 10 * model.Second, Header: model.HeaderInfo{GenerationTime: tp(10 * model.Second)}}
	assert.True(t, model.IsCode(e.CheckRelevance(o), model.ErrMissingHeaderField))
	o.Payload.GenerationTime = tp(9500 * model.Millisecond)
	assert.NoError(t, e.CheckRelevance(o))
}

func TestCheckConsistency(t *testing.T) {
	e := &Entry{Psid: 32, Rx: Rx{Consistency: Consistency{GenLocationCheck: true, OverdueCRLTolerance: 60}}}
	region := model.Region{Kind: model.RegionCircular, Center: model.Location{Latitude: 423000000, Longitude: -834000000}, Radius: 1000}
	o := &Observation{
		RxTime:     1000 * model.Second,
		Header:     model.HeaderInfo{GenerationLocation: &model.Location{Latitude: 423005000, Longitude: -834000000}},
		CertRegion: region,
	}
	require.NoError(t, e.CheckConsistency(o), "unknown crl is not overdue")

	o.CRLNextUpdate = tp(940 * model.Second)
	assert.NoError(t, e.CheckConsistency(o))
	o.CRLNextUpdate = tp(939 * model.Second)
	assert.True(t, model.IsCode(e.CheckConsistency(o), model.ErrCRLOverdue))

	o.CRLNextUpdate = nil
	o.Header.GenerationLocation = &model.Location{Latitude: 424000000, Longitude: -834000000}
	assert.True(t, model.IsCode(e.CheckConsistency(o), model.ErrLocationOutside))
	o.Header.GenerationLocation = nil
	assert.True(t, model.IsCode(e.CheckConsistency(o), model.ErrMissingHeaderField))
}

func TestEntryReplay(t *testing.T) {
	tbl := NewTable(Options{ReplayCapacity: 4})
	require.NoError(t, tbl.Add(Entry{Psid: 32, Rx: Rx{Relevance: Relevance{Replay: true, ValidityPeriod: 10 * model.Second}}}))
	e, err := tbl.Get(32)
	require.NoError(t, err)
	o := &Observation{RxTime: 100 * model.Second, Header: model.HeaderInfo{GenerationTime: tp(99 * model.Second)}, Signature: []byte("sig")}
	require.NoError(t, e.Replay(o))
	assert.True(t, model.IsCode(e.Replay(o), model.ErrReplay))
	o.RxTime += 11 * model.Second
	assert.NoError(t, e.Replay(o), "accepted again once the first sighting aged out")
}

func TestEntryYAML(t *testing.T) {
	doc := `
psid: 32
tx:
  gen_time_hdr: true
  spdu_lifetime: 30000000
  min_inter_cert_time: 450000
  sign_point_mode: 1
rx:
  verify_data: true
  relevance:
    replay: true
    validity_period: 10000000
    gen_time_source: 1
  consistency:
    overdue_crl_tolerance: 60
`
	var e Entry
	require.NoError(t, yaml.Unmarshal([]byte(doc), &e))
	assert.Equal(t, model.Psid(32), e.Psid)
	assert.Equal(t, model.PointCompressed, e.Tx.SignPointMode)
	assert.Equal(t, 450*model.Millisecond, e.Tx.MinInterCertTime)
	assert.Equal(t, FromPayload, e.Rx.Relevance.GenTimeSource)
	assert.Equal(t, uint32(60), e.Rx.Consistency.OverdueCRLTolerance)
	assert.NoError(t, e.Validate(), fmt.Sprintf("%+v", e))
}
