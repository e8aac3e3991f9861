package core

import (
	"context"
	"fmt"

	"medichain/pkg/domain"
)

// IsAuthorized reports whether id currently holds role.
func (l *Ledger) IsAuthorized(ctx context.Context, id Identity, role Role) (bool, error) {
	id = id.Normalize()
	var ok bool
	err := l.view(ctx, "is_authorized", func(v TransactionView) error {
		ok = v.Roles().Has(id, role)
		return nil
	})
	return ok, err
}

// Administrator returns the current administrator, or the zero identity once
// administration has been renounced or was never bootstrapped.
func (l *Ledger) Administrator(ctx context.Context) (Identity, error) {
	admin := domain.ZeroIdentity
	err := l.view(ctx, "administrator", func(v TransactionView) error {
		rs := v.Roles()
		if !rs.Renounced && !rs.Administrator.IsZero() {
			admin = rs.Administrator
		}
		return nil
	})
	return admin, err
}

// ListRole returns the holders of role in ascending order.
func (l *Ledger) ListRole(ctx context.Context, role Role) ([]Identity, error) {
	if !role.Valid() {
		return nil, domain.InvalidArgument("unknown role %q", role)
	}
	var out []Identity
	err := l.view(ctx, "list_role", func(v TransactionView) error {
		out = v.Roles().List(role)
		return nil
	})
	return out, err
}

// SetRole grants or revokes role for id. Only the administrator may call it;
// id must be a well-formed non-zero address.
func (l *Ledger) SetRole(ctx context.Context, caller, id Identity, role Role, enabled bool) (Result, error) {
	caller = caller.Normalize()
	return l.mutate(ctx, OpSetRole, caller, fmt.Sprintf("%s/%s", role, id), func(tx Transaction) error {
		if !tx.Roles().IsAdministrator(caller) {
			return domain.AdministrationRequired(OpSetRole, caller)
		}
		if !role.Valid() {
			return domain.InvalidArgument("unknown role %q", role)
		}
		if id.IsZero() {
			return domain.InvalidArgument("cannot assign %s to the zero identity", role)
		}
		id, err := parseArgIdentity("role holder", id)
		if err != nil {
			return err
		}
		if err := tx.SetRole(id, role, enabled); err != nil {
			return err
		}
		tx.Emit(domain.NewNotification(domain.NotifyRoleUpdated, tx.Now(), domain.RoleUpdated{
			Identity: id,
			Role:     role,
			Enabled:  enabled,
		}))
		return nil
	})
}

// SetManufacturer grants or revokes the manufacturer role.
func (l *Ledger) SetManufacturer(ctx context.Context, caller, id Identity, enabled bool) (Result, error) {
	return l.SetRole(ctx, caller, id, domain.RoleManufacturer, enabled)
}

// SetDoctor grants or revokes the doctor role.
func (l *Ledger) SetDoctor(ctx context.Context, caller, id Identity, enabled bool) (Result, error) {
	return l.SetRole(ctx, caller, id, domain.RoleDoctor, enabled)
}

// SetPharmacy grants or revokes the pharmacy role.
func (l *Ledger) SetPharmacy(ctx context.Context, caller, id Identity, enabled bool) (Result, error) {
	return l.SetRole(ctx, caller, id, domain.RolePharmacy, enabled)
}

// TransferAdministration hands the administrator slot to next, which must be
// a well-formed non-zero address.
func (l *Ledger) TransferAdministration(ctx context.Context, caller, next Identity) (Result, error) {
	caller = caller.Normalize()
	return l.mutate(ctx, OpTransferAdministration, caller, string(next), func(tx Transaction) error {
		if !tx.Roles().IsAdministrator(caller) {
			return domain.AdministrationRequired(OpTransferAdministration, caller)
		}
		if next.IsZero() {
			return domain.InvalidArgument("new administrator cannot be the zero identity")
		}
		next, err := parseArgIdentity("new administrator", next)
		if err != nil {
			return err
		}
		if err := tx.SetAdministrator(next); err != nil {
			return err
		}
		tx.Emit(domain.NewNotification(domain.NotifyAdministrationTransferred, tx.Now(), domain.AdministrationTransferred{
			Previous: caller,
			New:      next,
		}))
		return nil
	})
}

// RenounceAdministration clears the administrator permanently. Afterwards no
// role can ever be granted or revoked again and Bootstrap is a no-op. Role
// holders keep their roles.
func (l *Ledger) RenounceAdministration(ctx context.Context, caller Identity) (Result, error) {
	caller = caller.Normalize()
	return l.mutate(ctx, OpRenounceAdministration, caller, string(caller), func(tx Transaction) error {
		if !tx.Roles().IsAdministrator(caller) {
			return domain.AdministrationRequired(OpRenounceAdministration, caller)
		}
		if err := tx.RenounceAdministrator(); err != nil {
			return err
		}
		tx.Emit(domain.NewNotification(domain.NotifyAdministrationTransferred, tx.Now(), domain.AdministrationTransferred{
			Previous: caller,
			New:      domain.ZeroIdentity,
		}))
		return nil
	})
}
