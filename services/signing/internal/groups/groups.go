// Package groups drives one recipient through an ordered set of documents
// behind a single session link.
package groups

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/recipients"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/signing"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/tokens"
)

type Service struct {
	store  store.Store
	proc   *signing.Processor
	tokens *tokens.Manager
	logger *zap.Logger
}

func New(st store.Store, proc *signing.Processor, tm *tokens.Manager, logger *zap.Logger) *Service {
	return &Service{store: st, proc: proc, tokens: tm, logger: logger.With(zap.String("component", "groups"))}
}

// Create stores a draft group over documentIDs in the given order.
func (s *Service) Create(ctx context.Context, title string, documentIDs []string) (domain.DocumentGroup, error) {
	if len(documentIDs) == 0 {
		return domain.DocumentGroup{}, domain.Malformed("group needs at least one document")
	}
	g := domain.DocumentGroup{ID: domain.NewID(domain.PrefixGroup), Title: title, Status: domain.GroupDraft}
	seen := make(map[string]bool, len(documentIDs))
	for i, id := range documentIDs {
		if seen[id] {
			return domain.DocumentGroup{}, domain.Malformed("duplicate document " + id)
		}
		seen[id] = true
		if _, err := s.store.GetDocument(ctx, id); err != nil {
			return domain.DocumentGroup{}, notFound(err, "document", id)
		}
		g.Items = append(g.Items, domain.GroupItem{DocumentID: id, Order: i})
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return domain.DocumentGroup{}, err
	}
	return s.Get(ctx, g.ID)
}

func (s *Service) Get(ctx context.Context, groupID string) (domain.DocumentGroup, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return domain.DocumentGroup{}, notFound(err, "group", groupID)
	}
	return g, nil
}

func (s *Service) Session(ctx context.Context, sessionToken string) (domain.GroupSigningSession, error) {
	sess, err := s.store.GetSession(ctx, sessionToken)
	if err != nil {
		return domain.GroupSigningSession{}, notFound(err, "group session", "")
	}
	return sess, nil
}

// Lock freezes the group's items. Every member document must be past draft.
func (s *Service) Lock(ctx context.Context, groupID string) (domain.DocumentGroup, error) {
	var g domain.DocumentGroup
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		g, err = repo.LockGroup(ctx, groupID)
		if err != nil {
			return notFound(err, "group", groupID)
		}
		if g.Status != domain.GroupDraft {
			return nil
		}
		if len(g.Items) == 0 {
			return &domain.Error{Code: domain.CodeGroupNotReady, Message: "group has no documents"}
		}
		for _, it := range g.Items {
			doc, err := repo.GetDocument(ctx, it.DocumentID)
			if err != nil {
				return notFound(err, "document", it.DocumentID)
			}
			if doc.IsDraft() {
				return &domain.Error{Code: domain.CodeGroupNotReady, Message: domain.ErrGroupNotReady.Message, Reason: doc.ID}
			}
		}
		if err := repo.UpdateGroupStatus(ctx, g.ID, domain.GroupLocked); err != nil {
			return err
		}
		g.Status = domain.GroupLocked
		return nil
	})
	if err != nil {
		return domain.DocumentGroup{}, err
	}
	return g, nil
}

// StartSession opens the session link of recipient on a locked group. A
// recipient has at most one open session per group.
func (s *Service) StartSession(ctx context.Context, groupID, recipient string) (domain.GroupSigningSession, error) {
	if recipient == "" {
		return domain.GroupSigningSession{}, domain.ErrRecipientRequired
	}
	var sess domain.GroupSigningSession
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		g, err := repo.GetGroup(ctx, groupID)
		if err != nil {
			return notFound(err, "group", groupID)
		}
		if g.Status != domain.GroupLocked {
			return &domain.Error{Code: domain.CodeGroupNotReady, Message: "group is not locked", Reason: string(g.Status)}
		}
		assigned := false
		for _, it := range g.Items {
			fields, err := repo.ListFields(ctx, it.DocumentID)
			if err != nil {
				return err
			}
			if len(recipients.FieldsFor(fields, recipient)) > 0 {
				assigned = true
				break
			}
		}
		if !assigned {
			return domain.ErrRecipientHasNoFields
		}
		secret, err := domain.NewLinkToken()
		if err != nil {
			return err
		}
		sess = domain.GroupSigningSession{
			ID:        domain.NewID(domain.PrefixSession),
			Token:     secret,
			GroupID:   g.ID,
			Recipient: recipient,
			Status:    domain.SessionPending,
		}
		return repo.CreateSession(ctx, sess)
	})
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return domain.GroupSigningSession{}, &domain.Error{Code: domain.CodeDuplicateActiveToken, Message: "recipient already has an open session on this group"}
		}
		return domain.GroupSigningSession{}, err
	}
	s.logger.Info("group session started", zap.String("group_id", groupID), zap.String("session_id", sess.ID))
	return sess, nil
}

// Step is the document the recipient must sign next.
type Step struct {
	Index     int                 `json:"index"`
	Total     int                 `json:"total"`
	Item      domain.GroupItem    `json:"item"`
	Document  domain.Document     `json:"document"`
	Fields    []domain.Field      `json:"fields"`
	SignToken domain.SigningToken `json:"sign_token"`
}

type NextResult struct {
	Session   domain.GroupSigningSession `json:"session"`
	Completed bool                       `json:"completed"`
	Step      *Step                      `json:"step,omitempty"`
}

// Next finds the first item from the session's position on which the
// recipient still has required fields, skipping items with no fields for
// them, and hands out a sign link for it.
func (s *Service) Next(ctx context.Context, sessionToken string) (NextResult, error) {
	var res NextResult
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		sess, err := lockOpenSession(ctx, repo, sessionToken, true)
		if err != nil {
			return err
		}
		if sess.Status == domain.SessionCompleted {
			res = NextResult{Session: sess, Completed: true}
			return nil
		}
		g, err := repo.GetGroup(ctx, sess.GroupID)
		if err != nil {
			return notFound(err, "group", sess.GroupID)
		}
		step, err := s.findStep(ctx, repo, g, sess, true)
		if err != nil {
			return err
		}
		if step == nil {
			sess.CurrentIndex = len(g.Items)
			sess.Status = domain.SessionCompleted
			if err := repo.UpdateSession(ctx, sess); err != nil {
				return err
			}
			if err := completeGroupIfDone(ctx, repo, g.ID); err != nil {
				return err
			}
			res = NextResult{Session: sess, Completed: true}
			return nil
		}
		if step.Index != sess.CurrentIndex {
			sess.CurrentIndex = step.Index
			if err := repo.UpdateSession(ctx, sess); err != nil {
				return err
			}
		}
		res = NextResult{Session: sess, Step: step}
		return nil
	})
	if err != nil {
		return NextResult{}, err
	}
	return res, nil
}

// findStep scans items from the session position. With issue set it gets or
// creates the sign link of the found item; otherwise it only reports whether
// one exists.
func (s *Service) findStep(ctx context.Context, repo store.Repository, g domain.DocumentGroup, sess domain.GroupSigningSession, issue bool) (*Step, error) {
	for i := sess.CurrentIndex; i < len(g.Items); i++ {
		it := g.Items[i]
		doc, err := repo.GetDocument(ctx, it.DocumentID)
		if err != nil {
			return nil, notFound(err, "document", it.DocumentID)
		}
		fields, err := repo.ListFields(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		st, assigned := recipients.StatusOf(fields)[sess.Recipient]
		if !assigned || st.Completed {
			continue
		}
		step := &Step{Index: i, Total: len(g.Items), Item: it, Document: doc, Fields: recipients.FieldsFor(fields, sess.Recipient)}
		if issue {
			tok, err := s.tokens.GetOrIssueSignLink(ctx, repo, doc, fields, sess.Recipient)
			if err != nil {
				return nil, fmt.Errorf("sign link for %s: %w", doc.ID, err)
			}
			step.SignToken = tok
		}
		return step, nil
	}
	return nil, nil
}

type SubmitRequest struct {
	SignerName  string
	FieldValues []domain.FieldValue
	IPAddress   string
	UserAgent   string
}

type SubmitResult struct {
	signing.Result
	Session domain.GroupSigningSession `json:"session"`
	// SessionCompleted is set once no item needs the recipient any more.
	SessionCompleted bool `json:"session_completed"`
}

// Submit signs the current item and advances the session in one
// transaction, so a failure can neither advance without a signature nor
// sign without advancing.
func (s *Service) Submit(ctx context.Context, sessionToken string, req SubmitRequest) (SubmitResult, error) {
	var res SubmitResult
	var out signing.Outcome
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		sess, err := lockOpenSession(ctx, repo, sessionToken, false)
		if err != nil {
			return err
		}
		g, err := repo.GetGroup(ctx, sess.GroupID)
		if err != nil {
			return notFound(err, "group", sess.GroupID)
		}
		step, err := s.findStep(ctx, repo, g, sess, true)
		if err != nil {
			return err
		}
		if step == nil {
			return domain.SessionClosed(domain.SessionCompleted)
		}
		out, err = s.proc.Apply(ctx, repo, signing.Request{
			Token:       step.SignToken.Token,
			SignerName:  req.SignerName,
			FieldValues: req.FieldValues,
			IPAddress:   req.IPAddress,
			UserAgent:   req.UserAgent,
		})
		if err != nil {
			return err
		}

		sess.CurrentIndex = step.Index + 1
		sess.Status = domain.SessionInProgress
		more, err := s.findStep(ctx, repo, g, sess, false)
		if err != nil {
			return err
		}
		if more == nil {
			sess.Status = domain.SessionCompleted
		}
		if err := repo.UpdateSession(ctx, sess); err != nil {
			return err
		}
		if sess.Status == domain.SessionCompleted {
			if err := completeGroupIfDone(ctx, repo, g.ID); err != nil {
				return err
			}
		}
		res = SubmitResult{Result: out.Result, Session: sess, SessionCompleted: sess.Status == domain.SessionCompleted}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	s.proc.Notify(ctx, out)
	s.logger.Info("group item signed",
		zap.String("session_id", res.Session.ID),
		zap.String("document_id", res.DocumentID),
		zap.Int("current_index", res.Session.CurrentIndex),
		zap.Bool("session_completed", res.SessionCompleted))
	return res, nil
}

// Cancel closes an open session and revokes the sign link it handed out for
// the current item. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, sessionToken string) (domain.GroupSigningSession, error) {
	var sess domain.GroupSigningSession
	err := s.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		sess, err = repo.LockSession(ctx, sessionToken)
		if err != nil {
			return notFound(err, "group session", "")
		}
		switch sess.Status {
		case domain.SessionCancelled:
			return nil
		case domain.SessionCompleted:
			return domain.SessionClosed(sess.Status)
		}
		g, err := repo.GetGroup(ctx, sess.GroupID)
		if err != nil {
			return notFound(err, "group", sess.GroupID)
		}
		if sess.CurrentIndex < len(g.Items) {
			docID := g.Items[sess.CurrentIndex].DocumentID
			tok, err := repo.FindActiveSignToken(ctx, docID, sess.Recipient)
			switch {
			case err == nil:
				if _, err := repo.RevokeToken(ctx, tok.Token); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}
		sess.Status = domain.SessionCancelled
		return repo.UpdateSession(ctx, sess)
	})
	if err != nil {
		return domain.GroupSigningSession{}, err
	}
	return sess, nil
}

func lockOpenSession(ctx context.Context, repo store.Repository, token string, allowCompleted bool) (domain.GroupSigningSession, error) {
	sess, err := repo.LockSession(ctx, token)
	if err != nil {
		return domain.GroupSigningSession{}, notFound(err, "group session", "")
	}
	if sess.Status == domain.SessionCancelled || (sess.Status == domain.SessionCompleted && !allowCompleted) {
		return domain.GroupSigningSession{}, domain.SessionClosed(sess.Status)
	}
	return sess, nil
}

// completeGroupIfDone marks the group completed once every session on it
// that was not cancelled has completed.
func completeGroupIfDone(ctx context.Context, repo store.Repository, groupID string) error {
	sessions, err := repo.ListSessions(ctx, groupID)
	if err != nil {
		return err
	}
	done := 0
	for _, s := range sessions {
		switch s.Status {
		case domain.SessionCancelled:
		case domain.SessionCompleted:
			done++
		default:
			return nil
		}
	}
	if done == 0 {
		return nil
	}
	return repo.UpdateGroupStatus(ctx, groupID, domain.GroupCompleted)
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(kind, id)
	}
	return err
}
