package economy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is attached to every ledger entry. Each variant belongs to exactly one source.
type Metadata interface {
	Source() Source
}

type PurchaseMeta struct {
	TransactionID string `json:"transaction_id"`
	BoosterCode   string `json:"booster_code"`
	Activation    bool   `json:"activation,omitempty"`
	TokensGranted int    `json:"tokens_granted,omitempty"`
}

func (PurchaseMeta) Source() Source { return SourcePurchase }

type SpeedTickMeta struct {
	TickAt     time.Time `json:"tick_at"`
	Multiplier int64     `json:"multiplier"`
}

func (SpeedTickMeta) Source() Source { return SourceSpeedTick }

type RegenMeta struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Interval int64     `json:"interval_seconds"`
}

func (RegenMeta) Source() Source { return SourceRegen }

type PeriodicRewardMeta struct {
	Kind      PeriodKind `json:"period_kind"`
	PeriodKey string     `json:"period_key"`
	Rank      int        `json:"rank"`
}

func (m PeriodicRewardMeta) Source() Source {
	if m.Kind == PeriodWeekly {
		return SourceWeeklyReward
	}
	return SourceDailyReward
}

type AdminMeta struct {
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason"`
}

func (AdminMeta) Source() Source { return SourceAdminManual }

type ReferralMeta struct {
	ReferrerID string `json:"referrer_id"`
	RefereeID  string `json:"referee_id"`
}

func (ReferralMeta) Source() Source { return SourceReferral }

type GameplayMeta struct {
	Action   string `json:"action"`
	RoundKey string `json:"round_key,omitempty"`
}

func (GameplayMeta) Source() Source { return SourceGameplay }

// EncodeMetadata writes m as a JSON object carrying a kind discriminator.
func EncodeMetadata(source Source, m Metadata) (json.RawMessage, error) {
	if m == nil {
		return json.RawMessage(fmt.Sprintf(`{"kind":%q}`, source)), nil
	}
	if m.Source() != source {
		return nil, fmt.Errorf("%w: %s metadata on %s credit", ErrMetadataMismatch, m.Source(), source)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(string(source))
	fields["kind"] = kind
	return json.Marshal(fields)
}

// DecodeMetadata is the inverse of EncodeMetadata.
func DecodeMetadata(raw json.RawMessage) (Metadata, error) {
	var head struct {
		Kind Source `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	var m Metadata
	switch head.Kind {
	case SourcePurchase:
		var v PurchaseMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		m = v
	case SourceSpeedTick:
		var v SpeedTickMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		m = v
	case SourceRegen:
		var v RegenMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		m = v
	case SourceWeeklyReward, SourceDailyReward:
		var v PeriodicRewardMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if v.Kind == "" {
			v.Kind = PeriodDaily
			if head.Kind == SourceWeeklyReward {
				v.Kind = PeriodWeekly
			}
		}
		m = v
	case SourceAdminManual:
		var v AdminMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		m = v
	case SourceReferral:
		var v ReferralMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		m = v
	case SourceGameplay:
		var v GameplayMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		m = v
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", head.Kind)
	}
	return m, nil
}
