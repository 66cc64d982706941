package commonerrors

import "net/http"

var (
	ErrUserNotFound = NewDomainError(
		"USER_NOT_FOUND", CategoryNotFound, http.StatusNotFound,
		"user not found")

	ErrUserLookupFailed = NewDomainError(
		"USER_LOOKUP_FAILED", CategoryExternal, http.StatusInternalServerError,
		"failed to look up user")

	ErrAlreadyFriend = NewDomainError(
		"ALREADY_FRIEND", CategoryConflict, http.StatusBadRequest,
		"already friend")

	ErrFriendRequestExists = NewDomainError(
		"FRIEND_REQUEST_EXISTS", CategoryConflict, http.StatusBadRequest,
		"friend request already sent")

	ErrNoFriendRequest = NewDomainError(
		"NO_FRIEND_REQUEST", CategoryNotFound, http.StatusBadRequest,
		"no friend request from this user")

	ErrSelfFriendRequest = NewDomainError(
		"SELF_FRIEND_REQUEST", CategoryValidation, http.StatusBadRequest,
		"cannot send a friend request to yourself")

	ErrInvalidUserID = NewDomainError(
		"INVALID_USER_ID", CategoryValidation, http.StatusBadRequest,
		"invalid user id")
)
