package app

import "artvista/pkg/domain"

var (
	ErrUnauthenticated    = domain.E(domain.KindUnauthorized, "", "authentication required", nil)
	ErrInvalidCredentials = domain.E(domain.KindUnauthorized, "", "invalid credentials", nil)
	ErrEmailTaken         = domain.E(domain.KindConflict, "", "email already exists", nil)

	ErrUserNotFound    = domain.E(domain.KindNotFound, "", "user not found", nil)
	ErrArtworkNotFound = domain.E(domain.KindNotFound, "", "artwork not found", nil)
	ErrCommentNotFound = domain.E(domain.KindNotFound, "", "comment not found", nil)

	ErrNotOwner         = domain.E(domain.KindForbidden, "", "only the owner can change this", nil)
	ErrNotCommentAuthor = domain.E(domain.KindForbidden, "", "only the comment author can delete it", nil)

	// ErrWriteConflict is returned when a shared document kept changing
	// underneath every retry.
	ErrWriteConflict = domain.E(domain.KindConflict, "", "too many concurrent updates, try again", nil)

	ErrNotImage      = domain.E(domain.KindValidation, "", "only image uploads are accepted", nil)
	ErrImageNotFound = domain.E(domain.KindValidation, "", "image path must reference an uploaded image", nil)
	ErrImageNotOwned = domain.E(domain.KindForbidden, "", "image was uploaded by another user", nil)
	ErrImageTooLarge = domain.E(domain.KindValidation, "", "image exceeds upload limit", nil)
)

func invalid(op, msg string) error {
	return domain.E(domain.KindValidation, op, msg, nil)
}

func unavailable(op string, err error) error {
	return domain.E(domain.KindUnavailable, op, "storage unavailable", err)
}
