package domain

import "errors"

// Refusal описывает штатный отказ ограничителя. Это не сбой, а ответ «не сейчас».
type Refusal struct {
	Reason string
}

func (r *Refusal) Error() string { return r.Reason }

// Refuse создаёт отказ с причиной.
func Refuse(reason string) error {
	return &Refusal{Reason: reason}
}

// IsRefusal сообщает, является ли ошибка штатным отказом.
func IsRefusal(err error) bool {
	var r *Refusal
	return errors.As(err, &r)
}
