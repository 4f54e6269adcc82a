package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// Directory is the tenant-scoped agent identity store backing the HTTP auth
// layer: agent registration, role/tag management, and API key issuance and
// verification. It never talks to the memory/graph core directly — it is a
// thin record of "who may call in with what role," stored through the same
// Store facade every other component uses.
type Directory struct {
	st store.Store
}

// NewDirectory constructs a Directory over st.
func NewDirectory(st store.Store) *Directory {
	return &Directory{st: st}
}

// CreateAgent registers a new agent under tenant and issues it a fresh API
// key. The raw key is returned exactly once; only its Argon2id hash is kept.
func (d *Directory) CreateAgent(ctx context.Context, tenant, agentID, name string, role model.AgentRole, tags []string) (model.Agent, string, error) {
	const op = "auth.Directory.CreateAgent"

	if err := model.ValidateAgentID(agentID); err != nil {
		return model.Agent{}, "", coreerr.Invalid(op, err.Error())
	}
	for _, tag := range tags {
		if err := model.ValidateTag(tag); err != nil {
			return model.Agent{}, "", coreerr.Invalid(op, err.Error())
		}
	}

	exists, err := d.st.Exists(ctx, tenant, keys.Agent(agentID))
	if err != nil {
		return model.Agent{}, "", coreerr.Backend(op, err)
	}
	if exists {
		return model.Agent{}, "", coreerr.Conflict(op, "agent_id already registered")
	}

	orgID, err := tenantOrgID(tenant)
	if err != nil {
		return model.Agent{}, "", coreerr.Invalid(op, err.Error())
	}

	rawKey, _, err := model.GenerateRawKey()
	if err != nil {
		return model.Agent{}, "", coreerr.Backend(op, err)
	}
	hash, err := HashAPIKey(rawKey)
	if err != nil {
		return model.Agent{}, "", coreerr.Backend(op, err)
	}

	now := time.Now().UTC()
	agent := model.Agent{
		ID:         uuid.New(),
		AgentID:    agentID,
		OrgID:      orgID,
		Name:       name,
		Role:       role,
		APIKeyHash: &hash,
		Tags:       tags,
		Metadata:   map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := d.put(ctx, tenant, agent); err != nil {
		return model.Agent{}, "", err
	}
	if err := d.st.AddToSet(ctx, tenant, keys.AgentIndex(), agentID); err != nil {
		return model.Agent{}, "", coreerr.Backend(op, err)
	}
	return agent, rawKey, nil
}

// GetAgent fetches one agent's record.
func (d *Directory) GetAgent(ctx context.Context, tenant, agentID string) (model.Agent, error) {
	const op = "auth.Directory.GetAgent"
	rec, err := d.st.Get(ctx, tenant, keys.Agent(agentID))
	if err != nil {
		if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.KindNotFound {
			return model.Agent{}, coreerr.NotFound(op, "agent not found")
		}
		return model.Agent{}, coreerr.Backend(op, err)
	}
	var agent model.Agent
	if err := json.Unmarshal(rec.Value, &agent); err != nil {
		return model.Agent{}, coreerr.Backend(op, err)
	}
	return agent, nil
}

// ListAgents returns every agent registered under tenant.
func (d *Directory) ListAgents(ctx context.Context, tenant string) ([]model.Agent, error) {
	const op = "auth.Directory.ListAgents"
	ids, err := d.st.SetMembers(ctx, tenant, keys.AgentIndex())
	if err != nil {
		return nil, coreerr.Backend(op, err)
	}
	agentKeys := make([]string, len(ids))
	for i, id := range ids {
		agentKeys[i] = keys.Agent(id)
	}
	recs, err := d.st.GetMany(ctx, tenant, agentKeys)
	if err != nil {
		return nil, coreerr.Backend(op, err)
	}
	agents := make([]model.Agent, 0, len(recs))
	for _, rec := range recs {
		var agent model.Agent
		if err := json.Unmarshal(rec.Value, &agent); err != nil {
			continue
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// UpdateAgentRole changes an agent's RBAC role.
func (d *Directory) UpdateAgentRole(ctx context.Context, tenant, agentID string, role model.AgentRole) (model.Agent, error) {
	agent, err := d.GetAgent(ctx, tenant, agentID)
	if err != nil {
		return model.Agent{}, err
	}
	agent.Role = role
	agent.UpdatedAt = time.Now().UTC()
	if err := d.put(ctx, tenant, agent); err != nil {
		return model.Agent{}, err
	}
	return agent, nil
}

// UpdateAgentTags replaces an agent's tag set.
func (d *Directory) UpdateAgentTags(ctx context.Context, tenant, agentID string, tags []string) (model.Agent, error) {
	const op = "auth.Directory.UpdateAgentTags"
	for _, tag := range tags {
		if err := model.ValidateTag(tag); err != nil {
			return model.Agent{}, coreerr.Invalid(op, err.Error())
		}
	}
	agent, err := d.GetAgent(ctx, tenant, agentID)
	if err != nil {
		return model.Agent{}, err
	}
	agent.Tags = tags
	agent.UpdatedAt = time.Now().UTC()
	if err := d.put(ctx, tenant, agent); err != nil {
		return model.Agent{}, err
	}
	return agent, nil
}

// DeleteAgent removes an agent's record and index entry.
func (d *Directory) DeleteAgent(ctx context.Context, tenant, agentID string) error {
	const op = "auth.Directory.DeleteAgent"
	if err := d.st.Delete(ctx, tenant, keys.Agent(agentID)); err != nil {
		return coreerr.Backend(op, err)
	}
	if err := d.st.RemoveFromSet(ctx, tenant, keys.AgentIndex(), agentID); err != nil {
		return coreerr.Backend(op, err)
	}
	return nil
}

// RotateAPIKey issues a fresh key for agentID, invalidating the prior one.
func (d *Directory) RotateAPIKey(ctx context.Context, tenant, agentID string) (model.Agent, string, error) {
	const op = "auth.Directory.RotateAPIKey"
	agent, err := d.GetAgent(ctx, tenant, agentID)
	if err != nil {
		return model.Agent{}, "", err
	}
	rawKey, _, err := model.GenerateRawKey()
	if err != nil {
		return model.Agent{}, "", coreerr.Backend(op, err)
	}
	hash, err := HashAPIKey(rawKey)
	if err != nil {
		return model.Agent{}, "", coreerr.Backend(op, err)
	}
	agent.APIKeyHash = &hash
	agent.UpdatedAt = time.Now().UTC()
	if err := d.put(ctx, tenant, agent); err != nil {
		return model.Agent{}, "", err
	}
	return agent, rawKey, nil
}

// VerifyAPIKey checks rawKey against the stored hash for (tenant, agentID).
// Always performs a dummy verification on the not-found path so response
// timing does not reveal whether an agent_id exists.
func (d *Directory) VerifyAPIKey(ctx context.Context, tenant, agentID, rawKey string) (model.Agent, error) {
	const op = "auth.Directory.VerifyAPIKey"
	agent, err := d.GetAgent(ctx, tenant, agentID)
	if err != nil {
		DummyVerify()
		return model.Agent{}, coreerr.Invalid(op, "invalid credentials")
	}
	if agent.APIKeyHash == nil {
		DummyVerify()
		return model.Agent{}, coreerr.Invalid(op, "invalid credentials")
	}
	ok, err := VerifyAPIKey(rawKey, *agent.APIKeyHash)
	if err != nil || !ok {
		return model.Agent{}, coreerr.Invalid(op, "invalid credentials")
	}
	return agent, nil
}

func (d *Directory) put(ctx context.Context, tenant string, agent model.Agent) error {
	const op = "auth.Directory.put"
	payload, err := json.Marshal(agent)
	if err != nil {
		return coreerr.Backend(op, err)
	}
	if err := d.st.Put(ctx, tenant, keys.Agent(agent.AgentID), payload, map[string]any{
		"tenant": tenant,
		"type":   "agent",
	}); err != nil {
		return coreerr.Backend(op, err)
	}
	return nil
}

// tenantOrgID parses the tenant string into the UUID model.Agent.OrgID
// carries. Every tenant identifier in this module IS a stringified org_id —
// the Store facade's tenant parameter and a JWT's OrgID claim are the same
// value in two representations.
func tenantOrgID(tenant string) (uuid.UUID, error) {
	id, err := uuid.Parse(tenant)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("tenant must be a valid org UUID: %w", err)
	}
	return id, nil
}
