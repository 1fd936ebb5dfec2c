package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/selector"
	"github.com/consbridge/consbridge/internal/store"
)

// RunUsers rebuilds the operator catalog from scratch: the ERP user
// catalog joined with departments, languages, the consultant enable list
// and the per-category skill register. After the rebuild each eligible
// operator is reconciled against CHAT agents so assignments can be
// translated in both directions.
func (e *ETL) RunUsers(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityUsers).Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	userRecs, err := fetchAll[mapper.UserRecord](ctx, e, odataUsers, "")
	if err != nil {
		return err
	}
	deptRecs, err := fetchAll[mapper.DepartmentRecord](ctx, e, odataDepartments, "")
	if err != nil {
		return err
	}
	userDeptRecs, err := fetchAll[mapper.UserDepartmentRecord](ctx, e, odataUserDepartment, "")
	if err != nil {
		return err
	}
	langRecs, err := fetchAll[mapper.UserLanguageRecord](ctx, e, odataUserLanguage, "")
	if err != nil {
		return err
	}
	enabledRecs, err := fetchAll[mapper.ConsultantListRecord](ctx, e, odataConsultantList, "")
	if err != nil {
		return err
	}
	skillRecs, err := fetchAll[mapper.UserSkillRecord](ctx, e, odataUserCategory, "")
	if err != nil {
		return err
	}

	users, skills, emails := buildUsers(userRecs, deptRecs, userDeptRecs, langRecs, enabledRecs, skillRecs)

	tx, err := e.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := e.Store.ReplaceUsers(ctx, tx, users, skills); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit user rebuild: %w", err)
	}

	now := time.Now().UTC()
	if err := e.Store.SaveCheckpoint(ctx, e.Store.Pool, EntityUsers, store.Checkpoint{LastSyncedAt: &now}); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	synced := 0
	for i := range users {
		u := &users[i]
		if u.DeletionMark || u.Invalid || u.ClRefKey == nil || emails[u.AccountID] == "" {
			continue
		}
		if err := e.syncChatUser(ctx, u, emails[u.AccountID]); err != nil {
			log.Warn().Err(err).Str("account_id", u.AccountID.String()).Msg("chat user sync failed")
			continue
		}
		synced++
	}

	log.Info().Int("users", len(users)).Int("skills", len(skills)).Int("chat_synced", synced).
		Dur("duration", time.Since(start)).Msg("pull finish")
	return nil
}

// fetchAll paginates an entity to exhaustion with no filter.
func fetchAll[T any](ctx context.Context, e *ETL, entity, orderBy string) ([]T, error) {
	var out []T
	skip := 0
	for {
		page, err := odata.FetchPage[T](ctx, e.OData, entity, odata.Query{
			OrderBy: orderBy,
			Top:     e.Cfg.PageSize,
			Skip:    skip,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", entity, err)
		}
		out = append(out, page...)
		if len(page) < e.Cfg.PageSize {
			return out, nil
		}
		skip += len(page)
	}
}

// buildUsers joins the six ERP feeds into catalog rows and skill links.
// Emails are returned separately: they are needed only for the CHAT sync
// and never stored.
func buildUsers(
	userRecs []mapper.UserRecord,
	deptRecs []mapper.DepartmentRecord,
	userDeptRecs []mapper.UserDepartmentRecord,
	langRecs []mapper.UserLanguageRecord,
	enabledRecs []mapper.ConsultantListRecord,
	skillRecs []mapper.UserSkillRecord,
) ([]store.User, []store.UserSkill, map[uuid.UUID]string) {
	deptNames := make(map[uuid.UUID]string, len(deptRecs))
	for _, d := range deptRecs {
		if key := mapper.CleanUUID(d.RefKey); key != nil {
			deptNames[*key] = d.Description
		}
	}

	byAccount := make(map[uuid.UUID]*store.User, len(userRecs))
	emails := make(map[uuid.UUID]string, len(userRecs))
	users := make([]store.User, 0, len(userRecs))
	for _, rec := range userRecs {
		account := mapper.CleanUUID(rec.RefKey)
		if account == nil || rec.Service {
			continue
		}
		users = append(users, store.User{
			AccountID:    *account,
			ClRefKey:     mapper.CleanUUID(rec.ClRefKey),
			Description:  rec.Description,
			ConLimit:     rec.ConLimit,
			StartHour:    mapper.CleanTimeOfDay(rec.StartHour),
			EndHour:      mapper.CleanTimeOfDay(rec.EndHour),
			DeletionMark: rec.DeletionMark,
			Invalid:      rec.Invalid,
		})
		byAccount[*account] = &users[len(users)-1]
		emails[*account] = rec.Email
	}

	for _, rec := range userDeptRecs {
		userKey := mapper.CleanUUID(rec.UserKey)
		deptKey := mapper.CleanUUID(rec.DepartmentKey)
		if userKey == nil || deptKey == nil {
			continue
		}
		if u, ok := byAccount[*userKey]; ok {
			u.Department = deptNames[*deptKey]
			u.ChatwootTeam = chatwootTeam(u.Department)
		}
	}

	for _, rec := range langRecs {
		userKey := mapper.CleanUUID(rec.UserKey)
		if userKey == nil {
			continue
		}
		u, ok := byAccount[*userKey]
		if !ok {
			continue
		}
		switch rec.Language {
		case "ru":
			u.RU = true
		case "uz":
			u.UZ = true
		}
	}

	for _, rec := range enabledRecs {
		userKey := mapper.CleanUUID(rec.UserKey)
		if userKey == nil {
			continue
		}
		if u, ok := byAccount[*userKey]; ok {
			u.ConsultationEnabled = rec.Enabled
		}
	}

	var skills []store.UserSkill
	for _, rec := range skillRecs {
		userKey := mapper.CleanUUID(rec.UserKey)
		catKey := mapper.CleanUUID(rec.CategoryKey)
		if userKey == nil || catKey == nil {
			continue
		}
		// Skills join on cl_ref_key: that is the key consultation
		// documents carry as Manager_Key.
		u, ok := byAccount[*userKey]
		if !ok || u.ClRefKey == nil {
			continue
		}
		skills = append(skills, store.UserSkill{UserKey: *u.ClRefKey, CategoryKey: *catKey})
	}

	return users, skills, emails
}

// chatwootTeam derives the CHAT team from the resolved department name.
// Operators without a department stay unassigned.
func chatwootTeam(department string) string {
	switch department {
	case "":
		return ""
	case selector.AccountingDepartment:
		return "accounting"
	default:
		return "tech_support"
	}
}

// syncChatUser makes sure the operator has a CHAT agent and records the
// agent id. Existence is probed before any create, cheapest check first:
// the cl_ref_key custom attribute, a full agent scan on the same
// attribute, then the email. A 422 from create also resolves via email.
func (e *ETL) syncChatUser(ctx context.Context, u *store.User, email string) error {
	key := u.ClRefKey.String()

	agent, err := e.Chat.FindUserByCustomAttribute(ctx, "cl_ref_key", key)
	if err != nil {
		return err
	}
	if agent == nil {
		agents, err := e.Chat.ListAllAgents(ctx)
		if err != nil {
			return err
		}
		for i := range agents {
			if v, ok := agents[i].CustomAttributes["cl_ref_key"].(string); ok && v == key {
				agent = &agents[i]
				break
			}
		}
	}
	if agent == nil {
		agent, err = e.Chat.FindUserByEmail(ctx, email)
		if err != nil {
			return err
		}
	}
	if agent == nil {
		agent, err = e.Chat.CreateUser(ctx, u.Description, email, map[string]any{"cl_ref_key": key})
		if err != nil {
			return err
		}
	}
	if agent == nil {
		return errors.New("agent neither found nor created")
	}

	return e.Store.SetChatwootUserID(ctx, e.Store.Pool, u.AccountID, agent.ID)
}
