package lifecycle

import "context"

// DeleteParams names the session to remove.
type DeleteParams struct {
	Session string
}

// DeleteResult reports a removed record. The workspace directory is left in
// place for the caller to inspect or remove.
type DeleteResult struct {
	Session       string
	WorkspacePath string
}

// Delete removes a session's store record. The session does not need prior
// approval; only the record goes away, never the workspace directory.
func Delete(ctx context.Context, p DeleteParams, d Deps) (*DeleteResult, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if p.Session == "" {
		return nil, validationf("a session name is required")
	}

	rec := d.Store.Get(p.Session)
	if rec == nil {
		return nil, &NotFoundError{Kind: "session", Name: p.Session}
	}
	wsPath := d.Store.ResolveWorkspacePath(rec)

	removed, err := d.Store.Delete(p.Session)
	if err != nil {
		return nil, operational("removing session record", err)
	}
	if !removed {
		return nil, &NotFoundError{Kind: "session", Name: p.Session}
	}

	d.log().Info("session deleted", "session", p.Session, "workspace", wsPath)
	return &DeleteResult{Session: p.Session, WorkspacePath: wsPath}, nil
}
