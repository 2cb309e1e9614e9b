package engine

import (
	"sort"

	"github.com/atlasengine/atlas/internal/pathid"
	"github.com/atlasengine/atlas/internal/types"
)

// Knowledge and Whiteboard are project-scoped, free-standing entities.
// They live in an in-memory map guarded by their own mutex rather
// than flowing through the transaction coordinator or the four-index
// set.

// CreateKnowledgeParams is the payload for creating a knowledge item.
type CreateKnowledgeParams struct {
	ProjectRef string
	Text       string
	Tags       []string
	Domain     string
	Citations  []string
}

// CreateKnowledge adds a knowledge item scoped to a project.
func (e *Engine) CreateKnowledge(p CreateKnowledgeParams) types.Result[*types.Knowledge] {
	now := e.clock()
	e.projMu.RLock()
	_, projExists := e.projects[p.ProjectRef]
	e.projMu.RUnlock()
	if !projExists {
		return errResult[*types.Knowledge](types.ErrInvalidReference, "engine.create_knowledge", "project_ref does not resolve", now)
	}

	e.knowMu.Lock()
	defer e.knowMu.Unlock()
	item := &types.Knowledge{
		ID:         pathid.GenerateID("know", p.Text, p.ProjectRef, now, len(e.knowledge)),
		ProjectRef: p.ProjectRef,
		Text:       p.Text,
		Tags:       append([]string(nil), p.Tags...),
		Domain:     p.Domain,
		Citations:  append([]string(nil), p.Citations...),
		Created:    now,
		Updated:    now,
	}
	e.knowledge[item.ID] = item
	return types.Ok(item)
}

// UpdateKnowledgeParams carries the fields UpdateKnowledge may change.
type UpdateKnowledgeParams struct {
	Text      *string
	Tags      []string
	Domain    *string
	Citations []string
}

// UpdateKnowledge applies a partial update to the item with id.
func (e *Engine) UpdateKnowledge(id string, p UpdateKnowledgeParams) types.Result[*types.Knowledge] {
	now := e.clock()
	e.knowMu.Lock()
	defer e.knowMu.Unlock()
	item, ok := e.knowledge[id]
	if !ok {
		return errResult[*types.Knowledge](types.ErrNotFound, "engine.update_knowledge", "knowledge item not found", now)
	}
	updated := *item
	if p.Text != nil {
		updated.Text = *p.Text
	}
	if p.Tags != nil {
		updated.Tags = append([]string(nil), p.Tags...)
	}
	if p.Domain != nil {
		updated.Domain = *p.Domain
	}
	if p.Citations != nil {
		updated.Citations = append([]string(nil), p.Citations...)
	}
	updated.Updated = now
	e.knowledge[id] = &updated
	return types.Ok(&updated)
}

// DeleteKnowledge removes the item with id.
func (e *Engine) DeleteKnowledge(id string) types.Result[bool] {
	now := e.clock()
	e.knowMu.Lock()
	defer e.knowMu.Unlock()
	if _, ok := e.knowledge[id]; !ok {
		return errResult[bool](types.ErrNotFound, "engine.delete_knowledge", "knowledge item not found", now)
	}
	delete(e.knowledge, id)
	return types.Ok(true)
}

// ListKnowledge returns every item, sorted by id.
func (e *Engine) ListKnowledge() types.Result[[]*types.Knowledge] {
	e.knowMu.RLock()
	defer e.knowMu.RUnlock()
	ids := make([]string, 0, len(e.knowledge))
	for id := range e.knowledge {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*types.Knowledge, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.knowledge[id])
	}
	return types.Ok(out)
}

// GetKnowledgeByProject returns every item scoped to projectRef, sorted
// by id.
func (e *Engine) GetKnowledgeByProject(projectRef string) types.Result[[]*types.Knowledge] {
	e.knowMu.RLock()
	defer e.knowMu.RUnlock()
	var matched []*types.Knowledge
	for _, item := range e.knowledge {
		if item.ProjectRef == projectRef {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return types.Ok(matched)
}

// CreateWhiteboardParams is the payload for creating a whiteboard.
type CreateWhiteboardParams struct {
	ProjectRef string
	Title      string
	Content    string
}

// CreateWhiteboard creates a new whiteboard at version 1.
func (e *Engine) CreateWhiteboard(p CreateWhiteboardParams) types.Result[*types.Whiteboard] {
	now := e.clock()
	e.boardMu.Lock()
	defer e.boardMu.Unlock()
	board := &types.Whiteboard{
		ID:         pathid.GenerateID("board", p.Title, p.ProjectRef, now, len(e.whiteboards)),
		ProjectRef: p.ProjectRef,
		Title:      p.Title,
		Content:    p.Content,
		Version:    1,
		Created:    now,
		Updated:    now,
	}
	e.whiteboards[board.ID] = board
	return types.Ok(board)
}

// UpdateWhiteboard replaces a whiteboard's content, archiving the
// prior content as a revision and bumping Version.
func (e *Engine) UpdateWhiteboard(id, content string) types.Result[*types.Whiteboard] {
	now := e.clock()
	e.boardMu.Lock()
	defer e.boardMu.Unlock()
	board, ok := e.whiteboards[id]
	if !ok {
		return errResult[*types.Whiteboard](types.ErrNotFound, "engine.update_whiteboard", "whiteboard not found", now)
	}
	updated := *board
	updated.History = append(append([]types.WhiteboardRevision(nil), board.History...), types.WhiteboardRevision{
		Version:   board.Version,
		Content:   board.Content,
		UpdatedAt: board.Updated,
	})
	updated.Content = content
	updated.Version = board.Version + 1
	updated.Updated = now
	e.whiteboards[id] = &updated
	return types.Ok(&updated)
}

// GetWhiteboard returns the whiteboard with id, including its full
// revision history.
func (e *Engine) GetWhiteboard(id string) types.Result[*types.Whiteboard] {
	now := e.clock()
	e.boardMu.RLock()
	defer e.boardMu.RUnlock()
	board, ok := e.whiteboards[id]
	if !ok {
		return errResult[*types.Whiteboard](types.ErrNotFound, "engine.get_whiteboard", "whiteboard not found", now)
	}
	return types.Ok(board)
}

// DeleteWhiteboard removes the whiteboard with id.
func (e *Engine) DeleteWhiteboard(id string) types.Result[bool] {
	now := e.clock()
	e.boardMu.Lock()
	defer e.boardMu.Unlock()
	if _, ok := e.whiteboards[id]; !ok {
		return errResult[bool](types.ErrNotFound, "engine.delete_whiteboard", "whiteboard not found", now)
	}
	delete(e.whiteboards, id)
	return types.Ok(true)
}
