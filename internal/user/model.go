package user

// Info is the identity of the signed-in user.
type Info struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type UpdateUsernameRequest struct {
	Username string `json:"username"`
}
