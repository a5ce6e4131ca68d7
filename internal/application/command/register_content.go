package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER SKILL COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RegisterSkillCommand registers a skill in the taxonomy.
type RegisterSkillCommand struct {
	// ID is the unique skill identifier.
	ID string

	// Name is the human-readable skill name.
	Name string

	// Description explains what the skill covers.
	Description string

	// Prerequisites lists skill IDs that gate this skill.
	Prerequisites []string

	// Params optionally overrides the engine-default tracer
	// parameters.
	Params *skill.ModelParams
}

// Validate validates the command.
func (c RegisterSkillCommand) Validate() error {
	if c.ID == "" {
		return errors.New("register_skill: id is required")
	}
	if c.Name == "" {
		return errors.New("register_skill: name is required")
	}
	return nil
}

// RegisterSkillHandler handles the RegisterSkillCommand.
type RegisterSkillHandler struct {
	skills skill.Repository
}

// NewRegisterSkillHandler creates a new RegisterSkillHandler.
func NewRegisterSkillHandler(skills skill.Repository) *RegisterSkillHandler {
	return &RegisterSkillHandler{skills: skills}
}

// Handle executes the register skill command. The prerequisite graph is
// revalidated on the next engine start; a cycle introduced here fails
// that load, not this call.
func (h *RegisterSkillHandler) Handle(ctx context.Context, cmd RegisterSkillCommand) (*skill.Skill, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("register_skill: validation failed: %w", err)
	}

	prereqs := make([]shared.SkillID, len(cmd.Prerequisites))
	for i, p := range cmd.Prerequisites {
		prereqs[i] = shared.SkillID(p)
	}

	s, err := skill.NewSkill(skill.NewSkillParams{
		ID:            shared.SkillID(cmd.ID),
		Name:          cmd.Name,
		Description:   cmd.Description,
		Prerequisites: prereqs,
		Params:        cmd.Params,
	})
	if err != nil {
		return nil, err
	}

	for _, prereq := range prereqs {
		exists, err := h.skills.Exists(ctx, prereq)
		if err != nil {
			return nil, fmt.Errorf("register_skill: prerequisite check failed: %w", err)
		}
		if !exists {
			return nil, shared.NewDomainError("skill", "Register", shared.ErrNotFound,
				fmt.Sprintf("prerequisite %q is not registered", prereq))
		}
	}

	if err := h.skills.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER ITEM COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RegisterItemCommand registers a practice item under a skill.
type RegisterItemCommand struct {
	// ID is the unique item identifier.
	ID string

	// SkillID is the skill the item exercises.
	SkillID string

	// Prompt is the item's question text, hashed into the content
	// version.
	Prompt string

	// AnswerKey lists the accepted answer components.
	AnswerKey []string
}

// Validate validates the command.
func (c RegisterItemCommand) Validate() error {
	if c.ID == "" {
		return errors.New("register_item: id is required")
	}
	if c.SkillID == "" {
		return errors.New("register_item: skill_id is required")
	}
	if len(c.AnswerKey) == 0 {
		return errors.New("register_item: answer_key is required")
	}
	return nil
}

// RegisterItemHandler handles the RegisterItemCommand.
type RegisterItemHandler struct {
	items  item.Repository
	skills skill.Repository
}

// NewRegisterItemHandler creates a new RegisterItemHandler.
func NewRegisterItemHandler(items item.Repository, skills skill.Repository) *RegisterItemHandler {
	return &RegisterItemHandler{items: items, skills: skills}
}

// Handle executes the register item command.
func (h *RegisterItemHandler) Handle(ctx context.Context, cmd RegisterItemCommand) (*item.Item, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("register_item: validation failed: %w", err)
	}

	exists, err := h.skills.Exists(ctx, shared.SkillID(cmd.SkillID))
	if err != nil {
		return nil, fmt.Errorf("register_item: skill check failed: %w", err)
	}
	if !exists {
		return nil, shared.ErrSkillNotFound
	}

	it, err := item.NewItem(item.NewItemParams{
		ID:        shared.ItemID(cmd.ID),
		SkillID:   shared.SkillID(cmd.SkillID),
		Prompt:    cmd.Prompt,
		AnswerKey: cmd.AnswerKey,
	})
	if err != nil {
		return nil, err
	}

	if err := h.items.Create(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPRECATE ITEM COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// DeprecateItemCommand removes an item from future selection. The item
// stays in storage because the attempt log references it.
type DeprecateItemCommand struct {
	// ItemID is the item to deprecate.
	ItemID string
}

// Validate validates the command.
func (c DeprecateItemCommand) Validate() error {
	if c.ItemID == "" {
		return errors.New("deprecate_item: item_id is required")
	}
	return nil
}

// DeprecateItemHandler handles the DeprecateItemCommand.
type DeprecateItemHandler struct {
	items item.Repository
}

// NewDeprecateItemHandler creates a new DeprecateItemHandler.
func NewDeprecateItemHandler(items item.Repository) *DeprecateItemHandler {
	return &DeprecateItemHandler{items: items}
}

// Handle executes the deprecate item command.
func (h *DeprecateItemHandler) Handle(ctx context.Context, cmd DeprecateItemCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("deprecate_item: validation failed: %w", err)
	}

	it, err := h.items.GetByID(ctx, shared.ItemID(cmd.ItemID))
	if err != nil {
		return err
	}
	if it.Deprecated {
		return nil
	}

	it.Deprecate()
	return h.items.Update(ctx, it)
}
