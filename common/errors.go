package common

// ErrorBody is the JSON body of every failed response, ours and the collaborator API's.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}
