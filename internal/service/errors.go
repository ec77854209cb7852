package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Виды ошибок. Конкретные ошибки ниже оборачивают один из них; проверять через errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidState         = errors.New("invalid state")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyProcessed     = errors.New("already processed")
	ErrStorage              = errors.New("storage error")
)

var (
	ErrEntryNotFound     = fmt.Errorf("inventory entry %w", ErrNotFound)
	ErrListingNotFound   = fmt.Errorf("listing %w", ErrNotFound)
	ErrBuyOrderNotFound  = fmt.Errorf("buy order %w", ErrNotFound)
	ErrTradeNotFound     = fmt.Errorf("trade %w", ErrNotFound)
	ErrTradeItemNotFound = fmt.Errorf("trade item %w", ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("item %w", ErrNotFound)
	ErrItemDeleted       = fmt.Errorf("item deleted: %w", ErrNotFound)

	ErrNotOwner          = fmt.Errorf("not owner: %w", ErrForbidden)
	ErrNotTradeMember    = fmt.Errorf("not a trade participant: %w", ErrForbidden)
	ErrListingNotActive  = fmt.Errorf("listing is not active: %w", ErrInvalidState)
	ErrBuyOrderNotActive = fmt.Errorf("buy order is not active: %w", ErrInvalidState)
	ErrTradeNotPending   = fmt.Errorf("trade is not pending: %w", ErrInvalidState)
	ErrTradeNotApproved  = fmt.Errorf("trade is not approved by both users: %w", ErrInvalidState)
	ErrAlreadySold       = fmt.Errorf("listing already sold: %w", ErrAlreadyProcessed)

	ErrInvalidQuantity = fmt.Errorf("quantity must be > 0: %w", ErrInvalidInput)
	ErrInvalidPrice    = fmt.Errorf("price must be > 0: %w", ErrInvalidInput)
	ErrInvalidAmount   = fmt.Errorf("invalid amount: %w", ErrInvalidInput)
	ErrNotSellable     = fmt.Errorf("entry is not sellable: %w", ErrInvalidInput)
	ErrSelfTrade       = fmt.Errorf("cannot trade with yourself: %w", ErrInvalidInput)
	ErrSelfTransfer    = fmt.Errorf("cannot transfer to yourself: %w", ErrInvalidInput)
	ErrEmptyUser       = fmt.Errorf("user id is empty: %w", ErrInvalidInput)
	ErrDuplicateTag    = fmt.Errorf("unique item already in trade: %w", ErrInvalidInput)
)

// MissingItemError — у пользователя нет нужного количества предмета (или уникальной копии).
type MissingItemError struct {
	UserID    uuid.UUID
	ItemID    uuid.UUID
	UniqueTag *uuid.UUID
	Need      int64
	Have      int64
}

func (e *MissingItemError) Error() string {
	if e.UniqueTag != nil {
		return fmt.Sprintf("user %s does not own item %s (tag %s): %v", e.UserID, e.ItemID, *e.UniqueTag, ErrInsufficientQuantity)
	}
	return fmt.Sprintf("user %s has %d of item %s, need %d: %v", e.UserID, e.Have, e.ItemID, e.Need, ErrInsufficientQuantity)
}

func (e *MissingItemError) Unwrap() error { return ErrInsufficientQuantity }

var kinds = []error{
	ErrNotFound,
	ErrForbidden,
	ErrInvalidState,
	ErrInsufficientQuantity,
	ErrInsufficientBalance,
	ErrInvalidInput,
	ErrAlreadyProcessed,
	ErrStorage,
}

// KindOf возвращает вид ошибки; всё неизвестное считается ErrStorage.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrStorage
}

// classify пропускает ожидаемые ошибки как есть, а сбои хранилища заворачивает в ErrStorage.
func classify(err error) error {
	if err == nil || KindOf(err) != ErrStorage || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
