// Package accounts implements the replication-account manager (§4.1): all
// lifecycle operations on internal recovery and replication accounts
// across the three topology kinds. A Manager is bound to exactly one
// topology's primary connection.
package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/clusterctl/core/internal/clustererr"
)

// AuthKind is the account's authentication variant (§3.1). The two
// *_PASSWORD kinds require both a password and a certificate attribute.
type AuthKind string

const (
	AuthPassword            AuthKind = "PASSWORD"
	AuthCertIssuer          AuthKind = "CERT_ISSUER"
	AuthCertSubject         AuthKind = "CERT_SUBJECT"
	AuthCertIssuerPassword  AuthKind = "CERT_ISSUER_PASSWORD"
	AuthCertSubjectPassword AuthKind = "CERT_SUBJECT_PASSWORD"
)

func (k AuthKind) needsPassword() bool {
	switch k {
	case AuthPassword, AuthCertIssuerPassword, AuthCertSubjectPassword:
		return true
	default:
		return false
	}
}

func (k AuthKind) needsCert() bool {
	switch k {
	case AuthCertIssuer, AuthCertSubject, AuthCertIssuerPassword, AuthCertSubjectPassword:
		return true
	default:
		return false
	}
}

// Credentials is the result of creating or recreating an account.
type Credentials struct {
	User        string
	Host        string
	Password    string
	CertIssuer  string
	CertSubject string
}

// Manager performs account lifecycle operations against one topology's
// primary.
type Manager struct {
	db         *sql.DB
	topologyID string
}

// NewManager binds a Manager to the primary connection for one topology.
func NewManager(db *sql.DB, topologyID string) *Manager {
	return &Manager{db: db, topologyID: topologyID}
}

// CreateAccountForMember creates the recovery account for a target Instance
// (§4.1.2, "Create account for member"). hostPattern defaults to "%" when
// empty. When dryRun is true, no SQL runs and a synthesized credentials
// record is returned.
func (m *Manager) CreateAccountForMember(ctx context.Context, family Family, serverID int64, hostPattern string, authKind AuthKind, certSubject string, onlyOnTarget, dryRun bool, undo *UndoLog) (*Credentials, error) {
	if hostPattern == "" {
		hostPattern = "%"
	}
	user := Username(family, serverID)

	existingCount, err := m.countAccountRows(ctx, user)
	if err != nil {
		return nil, err
	}
	if existingCount > 0 && !onlyOnTarget {
		return nil, clustererr.WithCode(clustererr.KindArgument, clustererr.CodeAccountExists,
			fmt.Sprintf("account %q already exists", user))
	}

	if dryRun {
		return m.synthesizeCredentials(user, hostPattern, authKind, certSubject)
	}

	if err := m.dropAllHostsForUser(ctx, user, undo); err != nil {
		return nil, err
	}

	creds, err := m.createAccount(ctx, user, hostPattern, authKind, certSubject, undo)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// CreateAccountForNewClusterInClusterSet creates the cluster-level
// inter-cluster account using hexadecimal server-id encoding (§4.1.2).
func (m *Manager) CreateAccountForNewClusterInClusterSet(ctx context.Context, serverID int64, hostPattern string, authKind AuthKind, certSubject string, undo *UndoLog) (*Credentials, error) {
	if hostPattern == "" {
		hostPattern = "%"
	}
	user := Username(FamilyClusterSet, serverID)

	if err := m.dropAllHostsForUser(ctx, user, undo); err != nil {
		return nil, err
	}
	return m.createAccount(ctx, user, hostPattern, authKind, certSubject, undo)
}

// RecreateAccount drops and recreates user@host with a fresh password,
// used for password rotation (§4.1.2). If the caller's subsequent
// CHANGE REPLICATION SOURCE fails, it must call DropAccountByName to
// unwind (§4.1.4).
func (m *Manager) RecreateAccount(ctx context.Context, user, host string, authKind AuthKind, certSubject string, undo *UndoLog) (*Credentials, error) {
	if err := m.dropAllHostsForUser(ctx, user, undo); err != nil {
		return nil, err
	}
	return m.createAccount(ctx, user, host, authKind, certSubject, undo)
}

// DropAccountByName drops every host variant of user. Used both by normal
// cleanup and as the compensating action after a failed recreate
// (§4.1.4).
func (m *Manager) DropAccountByName(ctx context.Context, user string, undo *UndoLog) error {
	return m.dropAllHostsForUser(ctx, user, undo)
}

// InstanceAccountRef is the per-instance (user, host) pair RotateHostAllowlist
// needs to decide whether a clone is required.
type InstanceAccountRef struct {
	InstanceUUID string
	User         string
	Host         string
}

// RotateHostAllowlist clones every instance's account to newHostPattern
// when its current host differs, dropping the stale host afterward
// (§4.1.2). The caller is responsible for persisting the returned
// per-instance new host back into the metadata store.
func (m *Manager) RotateHostAllowlist(ctx context.Context, refs []InstanceAccountRef, newHostPattern string, undo *UndoLog) error {
	for _, ref := range refs {
		if ref.Host == newHostPattern {
			continue
		}
		if err := m.cloneUserToHost(ctx, ref.User, ref.Host, newHostPattern, undo); err != nil {
			return fmt.Errorf("rotating host allowlist for %s: %w", ref.InstanceUUID, err)
		}
		if err := m.dropHost(ctx, ref.User, ref.Host, undo); err != nil {
			return fmt.Errorf("dropping stale host for %s: %w", ref.InstanceUUID, err)
		}
	}
	return nil
}

// UpgradeLegacyAccount validates that a live recovery account's name
// matches one of the two recovery prefixes (§4.1.2) and returns the
// matched family, or an error if it matches neither — the spec requires a
// hard refusal in that case, instructing the operator to remove and
// re-add the instance instead of guessing.
func UpgradeLegacyAccount(user string) (Family, error) {
	family, ok := MatchesRecoveryPrefix(user)
	if !ok {
		return "", clustererr.Argument("account %q matches neither recovery prefix; remove and re-add the instance", user)
	}
	return family, nil
}

// DropAccountForRemovedMember implements the two-step rule of §4.1.2.f.
// conventionalOtherRefs is the count of other metadata rows naming
// prefix+serverID; recordedUser/recordedHost is the account actually on
// file for this instance, and recordedOtherRefs is how many rows besides
// this one reference it.
func (m *Manager) DropAccountForRemovedMember(ctx context.Context, family Family, serverID int64, conventionalOtherRefs int, recordedUser, recordedHost string, recordedOtherRefs int, dryRun bool, undo *UndoLog) error {
	conventional := Username(family, serverID)

	if dryRun {
		return nil
	}

	if conventionalOtherRefs == 0 {
		if err := m.dropAllHostsForUser(ctx, conventional, undo); err != nil {
			log.Printf("[WARN] dropping conventional account %q: %v", conventional, err)
		}
	}

	if recordedUser == "" {
		return nil
	}
	if recordedOtherRefs > 0 {
		return nil
	}
	if err := m.dropHost(ctx, recordedUser, recordedHost, undo); err != nil {
		return fmt.Errorf("dropping recorded account %s@%s: %w", recordedUser, recordedHost, err)
	}
	return nil
}

// DropAllAccounts scans mysql.user for rows under any of the five family
// prefixes and drops each, logging (not propagating) per-row failures
// (§4.1.2, "Drop all accounts").
func (m *Manager) DropAllAccounts(ctx context.Context) {
	families := []Family{FamilyGroupReplication, FamilyLegacyRecovery, FamilyReadReplica, FamilyClusterSet, FamilyReplicaSet}
	for _, family := range families {
		prefix := prefixFor(family)
		rows, err := m.db.QueryContext(ctx, "SELECT user, host FROM mysql.user WHERE user LIKE ?", prefix+"%")
		if err != nil {
			log.Printf("[WARN] scanning mysql.user for family %s: %v", family, err)
			continue
		}

		var pairs [][2]string
		for rows.Next() {
			var user, host string
			if err := rows.Scan(&user, &host); err != nil {
				log.Printf("[WARN] scanning account row for family %s: %v", family, err)
				continue
			}
			pairs = append(pairs, [2]string{user, host})
		}
		rows.Close()

		for _, pair := range pairs {
			if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP USER IF EXISTS '%s'@'%s'", escapeLiteral(pair[0]), escapeLiteral(pair[1]))); err != nil {
				log.Printf("[WARN] dropping account %s@%s: %v", pair[0], pair[1], err)
			}
		}
	}
}

func (m *Manager) countAccountRows(ctx context.Context, user string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mysql.user WHERE user = ?", user).Scan(&count)
	if err != nil {
		return 0, clustererr.Wrap(clustererr.KindRuntime, "", err, "counting existing account rows")
	}
	return count, nil
}

func (m *Manager) dropAllHostsForUser(ctx context.Context, user string, undo *UndoLog) error {
	rows, err := m.db.QueryContext(ctx, "SELECT host FROM mysql.user WHERE user = ?", user)
	if err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "listing existing hosts for account")
	}
	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			rows.Close()
			return clustererr.Wrap(clustererr.KindRuntime, "", err, "scanning host row")
		}
		hosts = append(hosts, host)
	}
	rows.Close()

	for _, host := range hosts {
		if err := m.dropHost(ctx, user, host, undo); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) dropHost(ctx context.Context, user, host string, undo *UndoLog) error {
	stmt := fmt.Sprintf("DROP USER IF EXISTS '%s'@'%s'", escapeLiteral(user), escapeLiteral(host))
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("dropping %s@%s", user, host))
	}
	// The inverse of a drop isn't reconstructable without the original
	// password/cert material, so undo only records a no-op marker unless
	// the caller supplies replacement credentials via RecreateAccount.
	undo.record("SELECT 1")
	return nil
}

func (m *Manager) createAccount(ctx context.Context, user, host string, authKind AuthKind, certSubject string, undo *UndoLog) (*Credentials, error) {
	creds := &Credentials{User: user, Host: host}

	var requireClause string
	switch authKind {
	case AuthCertIssuer, AuthCertIssuerPassword:
		requireClause = fmt.Sprintf(" REQUIRE ISSUER '%s'", escapeLiteral(certSubject))
		creds.CertIssuer = certSubject
	case AuthCertSubject, AuthCertSubjectPassword:
		requireClause = fmt.Sprintf(" REQUIRE SUBJECT '%s'", escapeLiteral(certSubject))
		creds.CertSubject = certSubject
	}

	if authKind.needsPassword() {
		pw, err := generatePassword()
		if err != nil {
			return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, "generating account password")
		}
		creds.Password = pw
	}

	var stmt string
	if creds.Password != "" {
		stmt = fmt.Sprintf("CREATE USER '%s'@'%s' IDENTIFIED BY '%s'%s",
			escapeLiteral(user), escapeLiteral(host), escapeLiteral(creds.Password), requireClause)
	} else {
		stmt = fmt.Sprintf("CREATE USER '%s'@'%s'%s", escapeLiteral(user), escapeLiteral(host), requireClause)
	}

	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("creating account %s@%s", user, host))
	}
	undo.record(fmt.Sprintf("DROP USER IF EXISTS '%s'@'%s'", escapeLiteral(user), escapeLiteral(host)))

	grant := fmt.Sprintf("GRANT REPLICATION SLAVE ON *.* TO '%s'@'%s'", escapeLiteral(user), escapeLiteral(host))
	if _, err := m.db.ExecContext(ctx, grant); err != nil {
		return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("granting replication slave to %s@%s", user, host))
	}

	return creds, nil
}

func (m *Manager) cloneUserToHost(ctx context.Context, user, fromHost, toHost string, undo *UndoLog) error {
	stmt := fmt.Sprintf("CREATE USER '%s'@'%s' LIKE '%s'@'%s'",
		escapeLiteral(user), escapeLiteral(toHost), escapeLiteral(user), escapeLiteral(fromHost))
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("cloning %s@%s to host %s", user, fromHost, toHost))
	}
	undo.record(fmt.Sprintf("DROP USER IF EXISTS '%s'@'%s'", escapeLiteral(user), escapeLiteral(toHost)))
	return nil
}

func (m *Manager) synthesizeCredentials(user, host string, authKind AuthKind, certSubject string) (*Credentials, error) {
	creds := &Credentials{User: user, Host: host}
	if authKind.needsPassword() {
		pw, err := generatePassword()
		if err != nil {
			return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, "generating dry-run password")
		}
		creds.Password = pw
	}
	if authKind.needsCert() {
		creds.CertSubject = certSubject
	}
	return creds, nil
}

// escapeLiteral escapes a single-quoted SQL string literal for inclusion
// in account-DDL statements, which MySQL's CREATE USER/DROP USER/GRANT
// grammar does not accept as placeholders.
func escapeLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
