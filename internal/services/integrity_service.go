package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"spinsettle/internal/models"

	"github.com/sirupsen/logrus"
)

type IntegrityReport struct {
	At          time.Time             `json:"at"`
	EntrySums   map[models.Unit]int64 `json:"entry_sums"`
	BalanceSums map[models.Unit]int64 `json:"balance_sums"`
	UnitsOff    []models.Unit         `json:"units_off,omitempty"`
	Drift       []models.BalanceDrift `json:"drift,omitempty"`
	BrokenChain map[int64]string      `json:"broken_chain,omitempty"`
	Held        []int64               `json:"held,omitempty"`
}

func (r *IntegrityReport) OK() bool {
	return len(r.UnitsOff) == 0 && len(r.Drift) == 0 && len(r.BrokenChain) == 0
}

// IntegrityService checks the ledger against its projections. It only reads
// the ledger; a mismatch puts the affected users on hold and is reported,
// never corrected.
type IntegrityService struct {
	ledger   LedgerStore
	users    UserStore
	notifier Notifier
	now      func() time.Time
}

func NewIntegrityService(ledger LedgerStore, users UserStore, notifier Notifier) *IntegrityService {
	return &IntegrityService{
		ledger:   ledger,
		users:    users,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *IntegrityService) Check(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{At: s.now(), BrokenChain: make(map[int64]string)}

	var err error
	if report.EntrySums, report.BalanceSums, err = s.ledger.Totals(ctx); err != nil {
		return nil, err
	}
	report.UnitsOff = diffUnits(report.EntrySums, report.BalanceSums)

	if report.Drift, err = s.ledger.BalanceDrift(ctx); err != nil {
		return nil, err
	}

	users, err := s.ledger.LedgerUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range users {
		reason, err := s.verifyChain(ctx, id)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			report.BrokenChain[id] = reason
		}
	}

	suspects := make(map[int64][]string)
	for _, d := range report.Drift {
		suspects[d.UserId] = append(suspects[d.UserId],
			fmt.Sprintf("%s entries %d != balance %d", d.Unit, d.EntriesSum, d.Balance))
	}
	for id, reason := range report.BrokenChain {
		suspects[id] = append(suspects[id], reason)
	}

	ids := make([]int64, 0, len(suspects))
	for id := range suspects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		reason := strings.Join(suspects[id], "; ")
		if err := s.hold(ctx, id, reason); err != nil {
			return nil, err
		}
		report.Held = append(report.Held, id)
	}

	if len(report.UnitsOff) > 0 {
		detail := fmt.Sprintf("sum mismatch for %v: entries %v balances %v", report.UnitsOff, report.EntrySums, report.BalanceSums)
		log.Error("Integrity check failed: ", detail)
		s.alert(models.AdminEvent{Kind: models.EventIntegrityAlert, Detail: detail, At: report.At})
	}

	if report.OK() {
		log.WithField("units", len(report.EntrySums)).Debug("Integrity check passed")
	}
	return report, nil
}

// verifyChain follows the user's entries from the genesis hash by previous
// hash, so the check does not depend on id order.
func (s *IntegrityService) verifyChain(ctx context.Context, userId int64) (string, error) {
	entries, stored, err := s.ledger.UserChain(ctx, userId)
	if err != nil {
		return "", err
	}

	byPrev := make(map[string]models.LedgerEntry, len(entries))
	for _, e := range entries {
		if _, dup := byPrev[e.PreviousHash]; dup {
			return fmt.Sprintf("chain forks after %s", short(e.PreviousHash)), nil
		}
		byPrev[e.PreviousHash] = e
	}

	head := models.GenesisHash
	for i := 0; i < len(entries); i++ {
		e, ok := byPrev[head]
		if !ok {
			return fmt.Sprintf("chain breaks after %s", short(head)), nil
		}
		if e.GenerateHash() != e.Hash {
			return fmt.Sprintf("entry %d hash mismatch", e.Id), nil
		}
		head = e.Hash
	}

	if head != stored {
		return "chain head does not match user", nil
	}
	return "", nil
}

func (s *IntegrityService) hold(ctx context.Context, userId int64, reason string) error {
	user, err := s.users.FindUser(ctx, userId)
	if err != nil {
		return err
	}
	if user.IntegrityHold {
		return nil
	}
	if err := s.users.SetHold(ctx, userId, true, reason); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"user": userId}).Error("User put on integrity hold: ", reason)
	s.alert(models.AdminEvent{Kind: models.EventIntegrityAlert, UserId: userId, Detail: reason, At: s.now()})
	return nil
}

func (s *IntegrityService) alert(ev models.AdminEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}

// ClearHold is the operator release after a mismatch has been investigated.
func (s *IntegrityService) ClearHold(ctx context.Context, userId int64) error {
	if err := s.users.SetHold(ctx, userId, false, ""); err != nil {
		return err
	}
	log.WithField("user", userId).Warn("Integrity hold cleared")
	return nil
}

func (s *IntegrityService) IsHeld(ctx context.Context, userId int64) (bool, error) {
	user, err := s.users.FindUser(ctx, userId)
	if err != nil {
		return false, err
	}
	return user.IntegrityHold, nil
}

func (s *IntegrityService) HeldUsers(ctx context.Context) ([]models.User, error) {
	return s.users.HeldUsers(ctx)
}

func diffUnits(a, b map[models.Unit]int64) []models.Unit {
	seen := make(map[models.Unit]struct{})
	var res []models.Unit
	for _, m := range []map[models.Unit]int64{a, b} {
		for u := range m {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			if a[u] != b[u] {
				res = append(res, u)
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
