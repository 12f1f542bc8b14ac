package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	calldomain "commhub-backend/internal/call/domain"
	ingestdomain "commhub-backend/internal/ingestion/domain"
	syncdomain "commhub-backend/internal/sync/domain"
	"commhub-backend/pkg/cloudpbx"
	"commhub-backend/pkg/errs"

	"github.com/rs/zerolog/log"
)

const (
	RouteCDR      = "cdr"
	RouteCallback = "callback"
)

// CloudPBXAdapter bulk-syncs call records and receives CDR and leg-status webhooks
type CloudPBXAdapter struct {
	timeout  time.Duration
	overlap  time.Duration
	lookback time.Duration
	pageSize int
	maxPages int
	now      func() time.Time
}

func NewCloudPBXAdapter(timeout, overlap, lookback time.Duration, pageSize int) *CloudPBXAdapter {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &CloudPBXAdapter{
		timeout:  timeout,
		overlap:  overlap,
		lookback: lookback,
		pageSize: pageSize,
		maxPages: 50,
		now:      time.Now,
	}
}

func (a *CloudPBXAdapter) Provider() string                  { return "cloudpbx" }
func (a *CloudPBXAdapter) Channel() syncdomain.Channel       { return syncdomain.ChannelVoice }
func (a *CloudPBXAdapter) CursorKind() syncdomain.CursorKind { return syncdomain.CursorTimestamp }

func (a *CloudPBXAdapter) client(src *syncdomain.Source) *cloudpbx.Client {
	return cloudpbx.NewClient(src.Credential("base_url"), src.Credential("api_key"), a.timeout)
}

// ErrPageLimit reports a bulk sync that stopped at the page cap before a short page.
// The records fetched so far are returned with it; the next run resumes from them.
var ErrPageLimit = errs.Transient(errors.New("call record page limit reached"))

// FetchNew pages through [cursor - overlap, now] in ascending start order until a short page
func (a *CloudPBXAdapter) FetchNew(ctx context.Context, src *syncdomain.Source, cursor int64) (Batch, error) {
	to := a.now().UTC()
	from := to.Add(-a.lookback)
	if cursor > 0 {
		from = time.Unix(cursor, 0).UTC().Add(-a.overlap)
	}

	client := a.client(src)
	var records []ingestdomain.Record
	complete := false
	for page := 1; page <= a.maxPages; page++ {
		cdrs, err := client.ListCallRecords(ctx, from, to, page, a.pageSize)
		if err != nil {
			return Batch{}, err
		}
		for i := range cdrs {
			update, err := a.updateFromCDR(src, &cdrs[i])
			if err != nil {
				log.Warn().Err(err).Str("source_id", src.ID).Int("page", page).Msg("Skipping call record")
				continue
			}
			records = append(records, ingestdomain.Record{
				Kind:     ingestdomain.RecordCall,
				SourceID: src.ID,
				Provider: a.Provider(),
				Position: positionOf(update),
				Call:     update,
			})
		}
		if len(cdrs) < a.pageSize {
			complete = true
			break
		}
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Position < records[j].Position })
	if !complete {
		return Batch{Records: records}, ErrPageLimit
	}
	return Batch{Records: records}, nil
}

func (a *CloudPBXAdapter) ParsePush(ctx context.Context, src *syncdomain.Source, push ingestdomain.Push) ([]ingestdomain.Record, error) {
	switch push.Route {
	case RouteCallback:
		cb, err := cloudpbx.ParseCallback(push.Query)
		if err != nil {
			return nil, errs.Mapping(err)
		}
		update := calldomain.CallUpdate{
			CallID:         cb.CallID,
			Provider:       a.Provider(),
			SourceID:       src.ID,
			Direction:      parseDirection(cb.Direction),
			Caller:         cb.Caller,
			Receiver:       cb.Receiver,
			AgentNumber:    cb.AgentNumber,
			ProviderStatus: cb.Status,
			EventAt:        cb.EventTime.Time,
		}
		return []ingestdomain.Record{{
			Kind:     ingestdomain.RecordCallback,
			SourceID: src.ID,
			Provider: a.Provider(),
			Callback: &ingestdomain.CallbackUpdate{CallUpdate: update},
		}}, nil

	default:
		cdr, err := cloudpbx.ParseCDR(push.Body)
		if err != nil {
			return nil, errs.Mapping(err)
		}
		update, err := a.updateFromCDR(src, cdr)
		if err != nil {
			return nil, err
		}
		return []ingestdomain.Record{{
			Kind:     ingestdomain.RecordCall,
			SourceID: src.ID,
			Provider: a.Provider(),
			Position: positionOf(update),
			Call:     update,
		}}, nil
	}
}

func (a *CloudPBXAdapter) Identify(push ingestdomain.Push) string {
	return push.Query.Get("account")
}

// VerifyPush checks the X-Signature header over the CDR body, or the sig parameter over the callback query
func (a *CloudPBXAdapter) VerifyPush(src *syncdomain.Source, push ingestdomain.Push) error {
	secret := src.Credential("webhook_secret")
	var ok bool
	if push.Route == RouteCallback {
		ok = cloudpbx.VerifySignature(secret, cloudpbx.CanonicalQuery(push.Query), push.Query.Get("sig"))
	} else {
		ok = cloudpbx.VerifySignature(secret, push.Body, push.Header["X-Signature"])
	}
	if !ok {
		return fmt.Errorf("invalid cloudpbx signature for source %s", src.ID)
	}
	return nil
}

// Send is not offered; click-to-call lives outside this service
func (a *CloudPBXAdapter) Send(ctx context.Context, src *syncdomain.Source, destination, text string) SendResult {
	return SendResult{Err: errs.ErrNotSupported}
}

func (a *CloudPBXAdapter) updateFromCDR(src *syncdomain.Source, cdr *cloudpbx.CDR) (*calldomain.CallUpdate, error) {
	if cdr.CallID == "" {
		return nil, errs.Mapping(fmt.Errorf("cdr without call_id"))
	}
	startedAt, endedAt := cdr.StartTime.Ptr(), cdr.EndTime.Ptr()
	return &calldomain.CallUpdate{
		CallID:          cdr.CallID,
		Provider:        a.Provider(),
		SourceID:        src.ID,
		Direction:       parseDirection(cdr.Direction),
		Caller:          cdr.Caller,
		Receiver:        cdr.Receiver,
		AgentNumber:     cdr.AgentNumber,
		ProviderStatus:  cdr.Status,
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		DurationSeconds: cdr.Duration.Ptr(),
		RecordingURL:    cdr.RecordingURL,
		EventAt:         calldomain.ObservedAt(endedAt, startedAt),
	}, nil
}

func positionOf(u *calldomain.CallUpdate) int64 {
	if u.StartedAt != nil {
		return u.StartedAt.Unix()
	}
	return 0
}

func parseDirection(s string) calldomain.Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outbound", "out", "outgoing":
		return calldomain.DirectionOutbound
	}
	return calldomain.DirectionInbound
}
