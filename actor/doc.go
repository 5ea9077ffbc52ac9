// actor的运行时实现。每个actor有一个全局唯一的句柄和一个邮箱，邮箱有消息时会被发布到全局
// 就绪队列，固定数量的工作者从就绪队列中取出邮箱，每次只处理一条消息，处理完再把邮箱放回去，
// 这样同一个actor的消息永远是串行处理的，而不同actor之间是并行的。
//
// actor由服务模块创建，模块通过RegisterModule注册，System.Launch按名字创建实例。句柄高8位是
// 节点编号，发往其他节点的消息交给Harbor处理，网络连接上的数据由gate包投递进来。
//
// 注：消息内容一旦发送，所有权就交给了接收者，发送者不应再修改它
package actor
