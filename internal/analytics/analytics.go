package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"chatwarden/internal/modules/channels"
	"chatwarden/internal/modules/stopwords"
	"chatwarden/internal/storage"
)

const (
	KindStopWords = "stop_words"
	KindEdit      = "edit"
	KindProfile   = "profile"
	KindCaptcha   = "captcha"
	KindOther     = "other"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Offender struct {
	UserID int64
	Name   string
	Count  int
}

type Report struct {
	Total        int
	ByKind       map[string]int
	TopOffenders []Offender
}

func (s *Service) Report(ctx context.Context, ownerID int64, since time.Time) (Report, error) {
	logs, err := s.store.ListLogs(ctx, ownerID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByKind: make(map[string]int)}
	offenders := make(map[int64]*Offender)
	for _, log := range logs {
		report.Total++
		report.ByKind[Kind(log.Reason)]++
		offender, ok := offenders[log.OffenderID]
		if !ok {
			offender = &Offender{UserID: log.OffenderID, Name: log.OffenderName}
			offenders[log.OffenderID] = offender
		}
		offender.Count++
	}

	for _, offender := range offenders {
		report.TopOffenders = append(report.TopOffenders, *offender)
	}
	sort.Slice(report.TopOffenders, func(i, j int) bool {
		if report.TopOffenders[i].Count != report.TopOffenders[j].Count {
			return report.TopOffenders[i].Count > report.TopOffenders[j].Count
		}
		return report.TopOffenders[i].UserID < report.TopOffenders[j].UserID
	})
	if len(report.TopOffenders) > 5 {
		report.TopOffenders = report.TopOffenders[:5]
	}
	return report, nil
}

// Kind classifies a log reason. Outcomes of a puzzle win over the original trigger.
func Kind(reason string) string {
	switch {
	case strings.Contains(reason, "капч"):
		return KindCaptcha
	case strings.HasPrefix(reason, stopwords.PrefixEdit):
		return KindEdit
	case strings.HasPrefix(reason, stopwords.PrefixMessage):
		return KindStopWords
	case strings.HasPrefix(reason, channels.ReasonPrefix):
		return KindProfile
	default:
		return KindOther
	}
}
