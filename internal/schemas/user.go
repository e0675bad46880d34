package schemas

import "github.com/tjfontaine/service-template/internal/models"

type UserCreateRequest struct {
	Name     string  `json:"name"`
	NickName string  `json:"nick_name"`
	Email    *string `json:"email,omitempty"`
}

func (r UserCreateRequest) Validate() error {
	v := &ValidationError{}
	checkLength(v, "name", r.Name, 1, 100)
	checkLength(v, "nick_name", r.NickName, 1, 50)
	if r.Email != nil {
		checkEmail(v, "email", *r.Email)
	}
	return v.errOrNil()
}

// Fields returns the insertable column values.
func (r UserCreateRequest) Fields() map[string]any {
	return map[string]any{"name": r.Name, "nick_name": r.NickName, "email": r.Email}
}

// UserUpdateRequest only changes the fields that are set.
type UserUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	NickName *string `json:"nick_name,omitempty"`
	Email    *string `json:"email,omitempty"`
}

func (r UserUpdateRequest) Validate() error {
	v := &ValidationError{}
	if r.Name != nil {
		checkLength(v, "name", *r.Name, 1, 100)
	}
	if r.NickName != nil {
		checkLength(v, "nick_name", *r.NickName, 1, 50)
	}
	if r.Email != nil {
		checkEmail(v, "email", *r.Email)
	}
	return v.errOrNil()
}

func (r UserUpdateRequest) Fields() map[string]any {
	fields := map[string]any{}
	if r.Name != nil {
		fields["name"] = *r.Name
	}
	if r.NickName != nil {
		fields["nick_name"] = *r.NickName
	}
	if r.Email != nil {
		fields["email"] = *r.Email
	}
	return fields
}

// UserResponse is models.User as returned by the API.
type UserResponse = models.User
