package core

import (
	"context"
	"strconv"

	"medichain/pkg/domain"
)

// MedicineInput carries the catalog fields supplied by a manufacturer.
type MedicineInput struct {
	SKU               string `json:"sku" validate:"required,max=64,printascii"`
	Name              string `json:"name" validate:"required,max=256"`
	Category          string `json:"category" validate:"max=128"`
	Dosage            string `json:"dosage" validate:"max=128"`
	ManufacturerName  string `json:"manufacturer_name" validate:"max=256"`
	ActiveIngredients string `json:"active_ingredients" validate:"max=1024"`
}

// RegisterMedicine adds a SKU to the catalog. The caller must hold the
// manufacturer role; an existing SKU is never overwritten.
func (l *Ledger) RegisterMedicine(ctx context.Context, caller Identity, in MedicineInput) (Medicine, Result, error) {
	caller = caller.Normalize()
	var created Medicine
	res, err := l.mutate(ctx, OpRegisterMedicine, caller, in.SKU, func(tx Transaction) error {
		if !tx.Roles().Has(caller, domain.RoleManufacturer) {
			return domain.Unauthorized("%s is not a manufacturer", caller)
		}
		if _, exists := tx.FindMedicine(in.SKU); exists {
			return domain.AlreadyExists(domain.EntityMedicine, in.SKU)
		}
		if err := l.validate.Struct(in); err != nil {
			return validationError(err)
		}
		var err error
		created, err = tx.CreateMedicine(Medicine{
			SKU:               in.SKU,
			Name:              in.Name,
			Category:          in.Category,
			Dosage:            in.Dosage,
			ManufacturerName:  in.ManufacturerName,
			ActiveIngredients: in.ActiveIngredients,
			RegisteredBy:      caller,
		})
		if err != nil {
			return err
		}
		tx.Emit(domain.NewNotification(domain.NotifyMedicineRegistered, tx.Now(), domain.MedicineRegistered{
			SKU:          created.SKU,
			Name:         created.Name,
			Manufacturer: created.ManufacturerName,
		}))
		return nil
	})
	return created, res, err
}

// GetMedicine returns the medicine registered under sku.
func (l *Ledger) GetMedicine(ctx context.Context, sku string) (Medicine, error) {
	var out Medicine
	err := l.view(ctx, "get_medicine", func(v TransactionView) error {
		m, ok := v.FindMedicine(sku)
		if !ok {
			return domain.NotFound(domain.EntityMedicine, sku)
		}
		out = m
		return nil
	})
	return out, err
}

// GetAllMedicines returns every medicine in registration order.
func (l *Ledger) GetAllMedicines(ctx context.Context) ([]Medicine, error) {
	var out []Medicine
	err := l.view(ctx, "get_all_medicines", func(v TransactionView) error {
		out = v.ListMedicines()
		return nil
	})
	return out, err
}

// MedicineSKUAt returns the SKU registered at position index.
func (l *Ledger) MedicineSKUAt(ctx context.Context, index int) (string, error) {
	var sku string
	err := l.view(ctx, "medicine_sku_at", func(v TransactionView) error {
		meds := v.ListMedicines()
		if index < 0 || index >= len(meds) {
			return domain.NotFound(domain.EntityMedicine, "#"+strconv.Itoa(index))
		}
		sku = meds[index].SKU
		return nil
	})
	return sku, err
}
