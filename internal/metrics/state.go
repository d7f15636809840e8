package metrics

import (
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// StateCollector reports current row counts at scrape time.
type StateCollector struct {
	db      *gorm.DB
	queries []stateQuery
}

type stateQuery struct {
	desc  *prometheus.Desc
	count func(db *gorm.DB) (int64, error)
}

func countWhere(model interface{}, query string, args ...interface{}) func(db *gorm.DB) (int64, error) {
	return func(db *gorm.DB) (int64, error) {
		var n int64
		q := db.Model(model)
		if query != "" {
			q = q.Where(query, args...)
		}
		err := q.Count(&n).Error
		return n, err
	}
}

func NewStateCollector(db *gorm.DB) *StateCollector {
	gauge := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &StateCollector{
		db: db,
		queries: []stateQuery{
			{gauge("companies", "Number of contractor companies."), countWhere(&models.Company{}, "")},
			{gauge("team_members_active", "Number of active team members."), countWhere(&models.TeamMember{}, "is_active = ?", true)},
			{gauge("invitations_pending", "Number of pending invitations."), countWhere(&models.Invitation{}, "status = ?", models.InvitationStatusPending)},
			{gauge("join_requests_pending", "Number of pending join requests."), countWhere(&models.JoinRequest{}, "status = ?", models.JoinRequestStatusPending)},
			{gauge("documents", "Number of stored documents."), countWhere(&models.Document{}, "")},
		},
	}
}

func (s *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, q := range s.queries {
		ch <- q.desc
	}
}

func (s *StateCollector) Collect(ch chan<- prometheus.Metric) {
	for _, q := range s.queries {
		n, err := q.count(s.db)
		if err != nil {
			logger.Warn().Err(err).Str("metric", q.desc.String()).Msg("state metric query failed")
			continue
		}
		ch <- prometheus.MustNewConstMetric(q.desc, prometheus.GaugeValue, float64(n))
	}
}
