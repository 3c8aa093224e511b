package enforce

import (
	"context"
	"sort"
	"time"

	"enforcement-engine/internal/models"
	"enforcement-engine/internal/store"
)

// priorityOrder maps priority levels to sort rank; unknown levels sort last.
var priorityOrder = map[string]int{
	models.PriorityUrgent: 0,
	models.PriorityHigh:   1,
	models.PriorityNormal: 2,
	models.PriorityLow:    3,
	models.PriorityOnHold: 4,
}

func priorityRank(level string) int {
	if r, ok := priorityOrder[level]; ok {
		return r
	}
	return len(priorityOrder)
}

// tierOrder fixes the partition order of the pipeline view.
var tierOrder = map[string]int{
	models.TierA:        0,
	models.TierB:        1,
	models.TierC:        2,
	models.TierUnscored: 3,
}

func caseTier(c models.EnforcementCase) string {
	if c.Tier == nil || *c.Tier == "" {
		return models.TierUnscored
	}
	return *c.Tier
}

// RankPipeline partitions cases by tier and ranks each partition by
// priority urgency, then amount descending, then id descending. The
// tie-break chain is total, so identical inputs always produce identical
// output, byte for byte.
func RankPipeline(cases []models.EnforcementCase) []models.PipelineRow {
	sorted := make([]models.EnforcementCase, len(cases))
	copy(sorted, cases)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		ta, tb := tierOrder[caseTier(a)], tierOrder[caseTier(b)]
		if ta != tb {
			return ta < tb
		}
		pa, pb := priorityRank(a.PriorityLevel), priorityRank(b.PriorityLevel)
		if pa != pb {
			return pa < pb
		}
		if a.JudgmentAmount != b.JudgmentAmount {
			return a.JudgmentAmount > b.JudgmentAmount
		}
		return a.ID > b.ID
	})

	rows := make([]models.PipelineRow, 0, len(sorted))
	rank := 0
	prevTier := ""
	for _, c := range sorted {
		tier := caseTier(c)
		if tier != prevTier {
			rank = 0
			prevTier = tier
		}
		rank++
		rows = append(rows, models.PipelineRow{
			CaseID:         c.ID,
			JudgmentID:     c.JudgmentID,
			Tier:           tier,
			TierRank:       rank,
			PriorityLevel:  c.PriorityLevel,
			JudgmentAmount: c.JudgmentAmount,
			CurrentStage:   c.CurrentStage,
			JudgmentDate:   c.JudgmentDate,
		})
	}
	return rows
}

// BuildCallQueue derives the operator call queue: one entry per plaintiff,
// carrying that plaintiff's single most urgent active call task and their
// contact recency. Plaintiffs with no recorded contact sort first.
func BuildCallQueue(rows []store.CallTaskRow, contacts map[string]time.Time, now time.Time) []models.CallQueueEntry {
	best := make(map[string]store.CallTaskRow)
	for _, r := range rows {
		cur, ok := best[r.Task.PlaintiffID]
		if !ok || callTaskLess(r, cur) {
			best[r.Task.PlaintiffID] = r
		}
	}

	entries := make([]models.CallQueueEntry, 0, len(best))
	for plaintiffID, r := range best {
		e := models.CallQueueEntry{
			PlaintiffID:   plaintiffID,
			PlaintiffName: r.PlaintiffName,
			TaskID:        r.Task.ID,
			CaseID:        r.Task.CaseID,
			TaskCode:      r.Task.TaskCode,
			DueAt:         r.Task.DueAt,
			CreatedAt:     r.Task.CreatedAt,
		}
		if at, ok := contacts[plaintiffID]; ok {
			t := at
			e.LastContactAt = &t
			days := int(now.Sub(at).Hours() / 24)
			e.DaysSinceContact = &days
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if c := compareTimePtr(a.DueAt, b.DueAt, false); c != 0 {
			return c < 0
		}
		if c := compareTimePtr(a.LastContactAt, b.LastContactAt, true); c != 0 {
			return c < 0
		}
		if a.PlaintiffName != b.PlaintiffName {
			return a.PlaintiffName < b.PlaintiffName
		}
		return a.PlaintiffID < b.PlaintiffID
	})
	return entries
}

// callTaskLess orders a plaintiff's candidate tasks: earliest due first
// (nil due last), then earliest created, then id for determinism.
func callTaskLess(a, b store.CallTaskRow) bool {
	if c := compareTimePtr(a.Task.DueAt, b.Task.DueAt, false); c != 0 {
		return c < 0
	}
	if !a.Task.CreatedAt.Equal(b.Task.CreatedAt) {
		return a.Task.CreatedAt.Before(b.Task.CreatedAt)
	}
	return a.Task.ID < b.Task.ID
}

// compareTimePtr orders possibly-nil times ascending. nilFirst picks where
// nil sorts: contact recency wants never-contacted first, due dates want
// undated last.
func compareTimePtr(a, b *time.Time, nilFirst bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if nilFirst {
			return -1
		}
		return 1
	case b == nil:
		if nilFirst {
			return 1
		}
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}

// Pipeline returns the tier-ranked pipeline over all open cases.
func (e *Engine) Pipeline(ctx context.Context) ([]models.PipelineRow, error) {
	cases, err := e.store.OpenCases(ctx)
	if err != nil {
		return nil, err
	}
	return RankPipeline(cases), nil
}

// CallQueue returns the operator call queue.
func (e *Engine) CallQueue(ctx context.Context) ([]models.CallQueueEntry, error) {
	rows, err := e.store.ActiveCallTasks(ctx)
	if err != nil {
		return nil, err
	}
	contacts, err := e.store.LastContacts(ctx)
	if err != nil {
		return nil, err
	}
	return BuildCallQueue(rows, contacts, time.Now().UTC()), nil
}

// Snapshot aggregates live pipeline counts plus queue depth.
func (e *Engine) Snapshot(ctx context.Context) (models.PipelineSnapshot, error) {
	byStage, byTier, openTasks, err := e.store.SnapshotCounts(ctx)
	if err != nil {
		return models.PipelineSnapshot{}, err
	}
	depth, err := e.queue.ReadyDepth(ctx)
	if err != nil {
		return models.PipelineSnapshot{}, err
	}
	inflight, err := e.queue.InFlightCount(ctx)
	if err != nil {
		return models.PipelineSnapshot{}, err
	}
	return models.PipelineSnapshot{
		TakenAt:         time.Now().UTC(),
		CasesByStage:    byStage,
		CasesByTier:     byTier,
		OpenTasksByCode: openTasks,
		QueueDepth:      depth,
		InFlight:        inflight,
	}, nil
}
