package main

import (
	"fmt"
	"os/user"
	"strconv"
)

// lookupCredentials resolves a setuid spec (numeric id or account name) to
// the uid/gid the filesystem process should run as.
//
// A numeric spec is still resolved through the user database so that the
// account's primary group is honoured when one exists; an unknown numeric
// id falls back to uid == gid, keeping fstab entries for ephemeral ids
// working.
func lookupCredentials(spec string) (uint32, uint32, error) {
	if id, err := strconv.ParseUint(spec, 10, 32); err == nil {
		u, err := user.LookupId(spec)
		if err != nil {
			return uint32(id), uint32(id), nil
		}

		return credentialsOf(u)
	}

	u, err := user.Lookup(spec)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to look up user %q: %w", spec, err)
	}

	return credentialsOf(u)
}

// credentialsOf extracts numeric uid/gid from a user database entry.
func credentialsOf(u *user.User) (uint32, uint32, error) {
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid %q for %q: %w", u.Uid, u.Username, err)
	}

	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gid %q for %q: %w", u.Gid, u.Username, err)
	}

	return uint32(uid), uint32(gid), nil
}
