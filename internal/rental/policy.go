package rental

import (
	"errors"
	"fmt"

	"github.com/evcraddock/rent-finder/internal/docstore"
)

var (
	errUnauthenticated = errors.New("sign-in required")
	errNotMember       = errors.New("not a session member")
)

// AccessPolicy is the store access policy for sessions and everything
// beneath them.
//
// Everything below a session is readable and writable by members only. Any
// signed-in identity may point-read a session document, so it can check
// its own membership, and may create a session naming itself sole owner.
// A non-member may make exactly one kind of session update: adding itself
// as a member.
type AccessPolicy struct{}

func (AccessPolicy) Authorize(req docstore.Request, lookup docstore.Lookup) error {
	if req.Caller == "" {
		return errUnauthenticated
	}

	segs := docstore.Segments(req.Path)
	if len(segs) == 0 || segs[0] != "sessions" {
		return fmt.Errorf("no access to %q", req.Path)
	}
	if len(segs) == 1 {
		return errors.New("sessions cannot be listed")
	}
	sid := segs[1]

	if len(segs) == 2 {
		return authorizeSession(req)
	}

	session, err := lookup(SessionPath(sid))
	if err != nil {
		return err
	}
	if !hasMember(session, req.Caller) {
		return errNotMember
	}

	// sessions/{sid}/listings/{lid}/votes/{vid}
	if len(segs) == 6 && segs[4] == "votes" {
		return authorizeVote(req)
	}
	// sessions/{sid}/listings/{lid}/comments/{cid}
	if len(segs) == 6 && segs[4] == "comments" && req.Op == docstore.OpUpdate {
		return errors.New("comments cannot be edited")
	}
	return nil
}

func authorizeSession(req docstore.Request) error {
	switch req.Op {
	case docstore.OpGet:
		return nil

	case docstore.OpCreate:
		members, _ := req.After["members"].(map[string]interface{})
		if len(members) != 1 || members[req.Caller] != string(RoleOwner) {
			return errors.New("a new session must list its creator as sole owner")
		}
		return nil

	case docstore.OpUpdate:
		if hasMember(req.Before, req.Caller) {
			return nil
		}
		selfGrant := "members." + req.Caller
		if len(req.Fields) != 1 || req.Fields[0] != selfGrant {
			return errNotMember
		}
		after, _ := req.After["members"].(map[string]interface{})
		if after[req.Caller] != string(RoleMember) {
			return errors.New("non-members may only add themselves as member")
		}
		return nil

	default:
		return fmt.Errorf("sessions do not allow %s", req.Op)
	}
}

func authorizeVote(req docstore.Request) error {
	switch req.Op {
	case docstore.OpCreate:
		if req.After["userId"] != req.Caller {
			return errors.New("votes must be cast as the caller")
		}
	case docstore.OpUpdate:
		if req.Before["userId"] != req.Caller || req.After["userId"] != req.Caller {
			return errors.New("only the voter may change a vote")
		}
	case docstore.OpDelete:
		if req.Before != nil && req.Before["userId"] != req.Caller {
			return errors.New("only the voter may remove a vote")
		}
	}
	return nil
}

func hasMember(session map[string]interface{}, identityID string) bool {
	if session == nil {
		return false
	}
	members, _ := session["members"].(map[string]interface{})
	role, ok := members[identityID].(string)
	return ok && (role == string(RoleOwner) || role == string(RoleMember))
}
