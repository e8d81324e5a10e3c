package database

type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByUsername(username string) (User, error)
	ListAccounts() ([]User, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	MarkMessagesRead(senderId, recipientId int) (int64, error)
	GetConversation(userA, userB, page, pageSize int) ([]Message, error)
	GetUnreadMessages(recipientId int) ([]Message, error)
}
