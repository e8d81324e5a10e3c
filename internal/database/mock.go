package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByUsername(username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) ListAccounts() ([]User, error) {
	args := m.Called()
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) MarkMessagesRead(senderId, recipientId int) (int64, error) {
	args := m.Called(senderId, recipientId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) GetConversation(userA, userB, page, pageSize int) ([]Message, error) {
	args := m.Called(userA, userB, page, pageSize)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) GetUnreadMessages(recipientId int) ([]Message, error) {
	args := m.Called(recipientId)
	return args.Get(0).([]Message), args.Error(1)
}
