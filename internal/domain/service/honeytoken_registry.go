package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

// HoneytokenRegistry manages decoy values and matches them against observed
// query text.
type HoneytokenRegistry struct {
	repo  outbound.HoneytokenRepository
	audit *AuditService
	now   func() time.Time
}

func NewHoneytokenRegistry(repo outbound.HoneytokenRepository, audit *AuditService) *HoneytokenRegistry {
	return &HoneytokenRegistry{repo: repo, audit: audit, now: model.Now}
}

// Deploy generates (or accepts) a decoy value and registers it.
func (r *HoneytokenRegistry) Deploy(ctx context.Context, cmd inbound.DeployHoneytokenCommand) (model.Honeytoken, error) {
	if err := validateCommand(cmd); err != nil {
		return model.Honeytoken{}, err
	}
	tokenType, err := model.ParseTokenType(cmd.TokenType)
	if err != nil {
		return model.Honeytoken{}, model.NewValidationError("tokenType", err.Error())
	}
	value := strings.TrimSpace(cmd.TokenValue)
	if value == "" {
		if value, err = model.GenerateTokenValue(tokenType); err != nil {
			return model.Honeytoken{}, err
		}
	} else if tokenType == model.TokenTypeCreditCard && !model.LuhnValid(value) {
		return model.Honeytoken{}, model.NewValidationError("tokenValue", "credit card honeytoken must pass the Luhn check")
	}

	token := model.NewHoneytoken(tokenType, value, cmd.TableName, cmd.ColumnName)
	if existing, err := r.repo.FindByMatchKey(ctx, token.MatchKey()); err != nil {
		return model.Honeytoken{}, persistErr("lookup honeytoken", err)
	} else if existing != nil {
		return model.Honeytoken{}, model.NewValidationError("tokenValue", "value is already registered as a honeytoken")
	}

	saved, err := r.repo.Create(ctx, token)
	if err != nil {
		return model.Honeytoken{}, persistErr("create honeytoken", err)
	}
	_, err = r.audit.Record(ctx, model.NewAuditLog(model.ActionHoneytokenDeployed,
		fmt.Sprintf("Honeytoken (%s) deployed to %s.%s", saved.TokenType, saved.TableName, saved.ColumnName),
		cmd.DeployedBy).
		WithContext("honeytokenId", saved.ID).
		WithContext("table", saved.TableName).
		WithContext("column", saved.ColumnName))
	if err != nil {
		return saved, err
	}
	return saved, nil
}

// Lookup finds the token for an observed value. Card-shaped values are also
// tried with separators removed.
func (r *HoneytokenRegistry) Lookup(ctx context.Context, value string) (*model.Honeytoken, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	h, err := r.repo.FindByMatchKey(ctx, value)
	if err != nil || h != nil {
		return h, persistErr("lookup honeytoken", err)
	}
	digits := model.NormalizeTokenValue(model.TokenTypeCreditCard, value)
	if digits == value || len(digits) < 12 {
		return nil, nil
	}
	h, err = r.repo.FindByMatchKey(ctx, digits)
	return h, persistErr("lookup honeytoken", err)
}

// MatchText returns every registered token whose value occurs in text.
func (r *HoneytokenRegistry) MatchText(ctx context.Context, text string) ([]model.Honeytoken, error) {
	if text == "" {
		return nil, nil
	}
	tokens, err := r.repo.List(ctx)
	if err != nil {
		return nil, persistErr("list honeytokens", err)
	}
	var digits string
	var hits []model.Honeytoken
	for _, t := range tokens {
		if strings.Contains(text, t.TokenValue) {
			hits = append(hits, t)
			continue
		}
		if t.TokenType == model.TokenTypeCreditCard {
			if digits == "" {
				digits = model.NormalizeTokenValue(model.TokenTypeCreditCard, text)
			}
			if strings.Contains(digits, t.MatchKey()) {
				hits = append(hits, t)
			}
		}
	}
	return hits, nil
}

// RecordAccess bumps the access counter atomically in the store.
func (r *HoneytokenRegistry) RecordAccess(ctx context.Context, id string) (model.Honeytoken, error) {
	h, err := r.repo.RecordAccess(ctx, id, r.now())
	if err != nil {
		return model.Honeytoken{}, persistErr("record honeytoken access", err)
	}
	return h, nil
}

func (r *HoneytokenRegistry) List(ctx context.Context) ([]model.Honeytoken, error) {
	out, err := r.repo.List(ctx)
	return out, persistErr("list honeytokens", err)
}

func (r *HoneytokenRegistry) Count(ctx context.Context) (int64, error) {
	n, err := r.repo.Count(ctx)
	return n, persistErr("count honeytokens", err)
}
