package models

// AlertAction is the single primary action an alert offers.
type AlertAction string

const (
	AlertRetry  AlertAction = "retry"
	AlertGoBack AlertAction = "go_back"
	AlertGoHome AlertAction = "go_home"
)

// Alert is a blocking, actionable message for the UI layer.
type Alert struct {
	Title   string
	Message string
	Action  AlertAction
}
